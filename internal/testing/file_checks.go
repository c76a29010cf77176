// Package testing holds file assertions shared by the store tests.
package testing

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
)

// FileChecker collects checks on a single path and reports every failing one.
type FileChecker struct {
	Path   string
	Checks []func(string) error
}

// NewFileChecker ...
func NewFileChecker(path string) *FileChecker {
	return &FileChecker{Path: path}
}

// Check runs the collected checks and joins their failures.
func (fc *FileChecker) Check() error {
	var errs []error
	for _, check := range fc.Checks {
		if err := check(fc.Path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsFile adds a check that the path is a regular file.
func (fc *FileChecker) IsFile() *FileChecker {
	fc.Checks = append(fc.Checks, func(path string) error {
		info, err := lstat(path)
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("expected regular file: %s (mode %s)", path, info.Mode())
		}
		return nil
	})
	return fc
}

// NotExists adds a check that nothing exists at the path.
func (fc *FileChecker) NotExists() *FileChecker {
	fc.Checks = append(fc.Checks, func(path string) error {
		_, err := os.Lstat(path)
		if err == nil {
			return fmt.Errorf("expected %s to not exist", path)
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("lstat %s: %w", path, err)
		}
		return nil
	})
	return fc
}

// JSONEquals adds a check that the file holds JSON semantically equal to want.
func (fc *FileChecker) JSONEquals(want string) *FileChecker {
	fc.Checks = append(fc.Checks, func(path string) error {
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var got, exp interface{}
		if err := json.Unmarshal(b, &got); err != nil {
			return fmt.Errorf("file %s is not valid JSON: %w", path, err)
		}
		if err := json.Unmarshal([]byte(want), &exp); err != nil {
			return fmt.Errorf("expected value is not valid JSON: %w", err)
		}
		if !reflect.DeepEqual(got, exp) {
			return fmt.Errorf("file %s JSON mismatch\nwant:\n%s\n\ngot:\n%s", path, want, b)
		}
		return nil
	})
	return fc
}

func lstat(path string) (os.FileInfo, error) {
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("path does not exist: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("lstat %s: %w", path, err)
	}
	return info, nil
}
