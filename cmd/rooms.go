package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/callrelay/internal/client"
	"github.com/BioHazard786/callrelay/internal/config"
	"github.com/BioHazard786/callrelay/internal/server"
	"github.com/BioHazard786/callrelay/internal/ui"
)

var flagRoomsServer string

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List the relay's live rooms",
	Long: `List the relay's live rooms and their members.

Examples:
  callrelay rooms
  callrelay rooms --server wss://relay.example/ws`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.Options{ServerURL: flagRoomsServer})
		if err != nil {
			return err
		}

		stop := ui.RunWaitingSpinner("Fetching rooms...")
		rooms, err := fetchRooms(cmd.Context(), &cfg.Client)
		stop()
		if err != nil {
			return err
		}

		ui.RenderRooms(cmd.OutOrStdout(), rooms.Rooms)
		return nil
	},
}

func init() {
	roomsCmd.Flags().StringVarP(&flagRoomsServer, "server", "s", "", "relay websocket URL (env RELAY_SERVER)")
	rootCmd.AddCommand(roomsCmd)
}

func fetchRooms(ctx context.Context, cfg *config.ClientConfig) (*server.RoomsResponse, error) {
	base, err := cfg.HTTPBaseURL()
	if err != nil {
		return nil, client.NewError("list rooms", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/rooms", nil)
	if err != nil {
		return nil, client.NewError("list rooms", err)
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, client.NewError("list rooms", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, client.WrapError("list rooms", client.ErrSignalingError,
			fmt.Sprintf("%s: %s", res.Status, body))
	}

	var out server.RoomsResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, client.NewError("decode rooms", err)
	}
	return &out, nil
}
