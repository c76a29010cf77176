package commands

import (
	"encoding/json"
	"fmt"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
	"github.com/trendcast/go-mediautils/mediaupload"
	"github.com/trendcast/go-mediautils/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and clean resumable upload state",
}

var stateShowCmd = &cobra.Command{
	Use:   "show <upload_id>",
	Short: "List the confirmed parts of an upload session",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

var stateCleanCmd = &cobra.Command{
	Use:   "clean <upload_id>",
	Short: "Forget the confirmed parts of an upload session",
	Long: `Remove the state of an upload session. The next upload that negotiates the
same session sends every part again.`,
	Args: cobra.ExactArgs(1),
	RunE: runStateClean,
}

func init() {
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateCleanCmd)
}

func withStore(cmd *cobra.Command, fn func(store state.Store) error) error {
	config, err := mediaupload.ParseStateConfig(envRepo)
	if err != nil {
		return err
	}

	store, closeStore, err := mediaupload.NewStore(cmd.Context(), config, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warnf("Failed to close upload state: %s", err)
		}
	}()

	return fn(store)
}

func runStateShow(cmd *cobra.Command, args []string) error {
	uploadID := args[0]
	return withStore(cmd, func(store state.Store) error {
		st, err := store.Load(cmd.Context(), uploadID)
		if err != nil {
			return err
		}

		if st.Len() == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No confirmed parts for upload %s\n", uploadID)
			return nil
		}

		var total int64
		fmt.Fprintf(cmd.OutOrStdout(), "Upload %s: %d confirmed parts\n", uploadID, st.Len())
		for _, n := range st.Parts() {
			rec, _ := st.Get(n)
			size := ackedSize(rec.Resp)
			total += size
			fmt.Fprintf(cmd.OutOrStdout(), "  part %-5d md5 %s  %s\n", n, rec.MD5, units.HumanSize(float64(size)))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Confirmed: %s\n", units.HumanSize(float64(total)))
		return nil
	})
}

func runStateClean(cmd *cobra.Command, args []string) error {
	uploadID := args[0]
	return withStore(cmd, func(store state.Store) error {
		if err := store.Remove(cmd.Context(), uploadID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed upload state of %s\n", uploadID)
		return nil
	})
}

// ackedSize reads the part size echoed by the service, 0 when the ack has none.
func ackedSize(resp json.RawMessage) int64 {
	var ack struct {
		Size json.Number `json:"size"`
	}
	if err := json.Unmarshal(resp, &ack); err != nil {
		return 0
	}
	size, err := ack.Size.Int64()
	if err != nil {
		return 0
	}
	return size
}
