package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/yourusername/wistia-offline-go/api/handlers"
	"github.com/yourusername/wistia-offline-go/internal/domain"
)

var (
	serverURL   string
	noAutoStart bool
	rootCmd     = &cobra.Command{
		Use:   "wistia-offline",
		Short: "wistia-offline CLI - offline HLS downloads for Wistia media",
		Long:  `A command-line interface for downloading Wistia media for offline playback and tracking download state.`,
	}
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8787", "Server URL")
	rootCmd.PersistentFlags().BoolVar(&noAutoStart, "no-auto-start", false, "Don't auto-start server if not running")

	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(removeAllCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(watchCmd)
}

// ensureServer checks if server is running and starts it if needed (unless --no-auto-start)
func ensureServer() {
	if noAutoStart {
		return
	}
	if err := ensureServerRunning(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

// apiError carries the error message returned by the server
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// call sends a request to the server and decodes the JSON response into out
func call(method, path string, wantStatus int, out interface{}) error {
	req, err := http.NewRequest(method, serverURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != wantStatus {
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &payload) != nil || payload.Error == "" {
			payload.Error = strings.TrimSpace(string(body))
		}
		return &apiError{Status: resp.StatusCode, Message: payload.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func mediaPath(hashedID, action string) string {
	return "/api/v1/media/" + url.PathEscape(hashedID) + "/" + action
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var downloadCmd = &cobra.Command{
	Use:   "download [hashed-id]",
	Short: "Download a media for offline playback",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		var result handlers.StateResponse
		exitOnError(call(http.MethodPost, mediaPath(args[0], "download"), http.StatusAccepted, &result))

		fmt.Printf("Download accepted!\n")
		fmt.Printf("Media: %s\n", result.HashedID)
		fmt.Printf("State: %s\n", formatState(result.State))
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [hashed-id]",
	Short: "Cancel an in-flight download",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		var result handlers.CancelResponse
		exitOnError(call(http.MethodPost, mediaPath(args[0], "cancel"), http.StatusOK, &result))

		if !result.Cancelled {
			fmt.Printf("Nothing to cancel (%s)\n", formatState(result.State))
			return
		}
		fmt.Println("Download cancelled successfully")
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove [hashed-id]",
	Short: "Delete a downloaded media",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		var result handlers.StateResponse
		exitOnError(call(http.MethodDelete, mediaPath(args[0], "download"), http.StatusOK, &result))
		fmt.Printf("State: %s\n", formatState(result.State))
	},
}

var removeAllCmd = &cobra.Command{
	Use:   "remove-all",
	Short: "Delete every downloaded media",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		exitOnError(call(http.MethodDelete, "/api/v1/downloads", http.StatusOK, nil))
		fmt.Println("All downloads removed")
	},
}

var stateCmd = &cobra.Command{
	Use:   "state [hashed-id]",
	Short: "Show the download state of a media",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		var result handlers.StateResponse
		exitOnError(call(http.MethodGet, mediaPath(args[0], "state"), http.StatusOK, &result))
		fmt.Printf("%s\t%s\n", result.HashedID, formatState(result.State))
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked downloads",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		state, _ := cmd.Flags().GetString("state")

		var result handlers.ListResponse
		exitOnError(call(http.MethodGet, "/api/v1/downloads", http.StatusOK, &result))

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "MEDIA\tSTATE\tUPDATED")
		for _, e := range result.Entries {
			if state != "" && string(e.State) != state {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n",
				e.HashedID,
				formatState(e.DownloadState()),
				e.UpdatedAt.Local().Format(time.DateTime))
		}
		w.Flush()

		s := result.Stats
		fmt.Printf("\nTotal: %d  Downloading: %d  Downloaded: %d  Failed: %d  Cancelled: %d\n",
			s.Total, s.Downloading, s.Downloaded, s.Failed, s.Cancelled)
	},
}

var playCmd = &cobra.Command{
	Use:   "play [hashed-id]",
	Short: "Print the URL a player should open",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		var result handlers.PlayableResponse
		exitOnError(call(http.MethodGet, mediaPath(args[0], "playable"), http.StatusOK, &result))
		fmt.Println(streamURL(result))
	},
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Show Wistia account details",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		var account domain.Account
		exitOnError(call(http.MethodGet, "/api/v1/account", http.StatusOK, &account))

		fmt.Println("Account:")
		fmt.Printf("  ID:     %d\n", account.ID)
		fmt.Printf("  Name:   %s\n", account.Name)
		fmt.Printf("  URL:    %s\n", account.URL)
		fmt.Printf("  Medias: %d\n", account.MediaCount)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [hashed-id]",
	Short: "Stream download state changes",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		wsURL, err := eventsURL(serverURL, args)
		exitOnError(err)

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		exitOnError(err)
		defer conn.Close()

		for {
			var ev handlers.StateEvent
			if err := conn.ReadJSON(&ev); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return
				}
				exitOnError(err)
			}
			fmt.Printf("%s  %s\t%s\n", ev.Time.Local().Format(time.TimeOnly), ev.HashedID, formatState(ev.State))
		}
	},
}

func init() {
	listCmd.Flags().StringP("state", "s", "", "Filter by state (downloading, downloaded, failed, cancelled)")
}

// eventsURL builds the websocket URL of the events stream
func eventsURL(base string, args []string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/events"
	if len(args) == 1 {
		u.RawQuery = url.Values{"media": {args[0]}}.Encode()
	}
	return u.String(), nil
}

// streamURL returns an absolute URL for the playable item
func streamURL(p handlers.PlayableResponse) string {
	if p.StreamURL == "" {
		return p.URL
	}
	if strings.HasPrefix(p.StreamURL, "/") {
		return strings.TrimRight(serverURL, "/") + p.StreamURL
	}
	return p.StreamURL
}

func formatState(s domain.DownloadState) string {
	switch s.Kind {
	case domain.StateDownloading:
		return fmt.Sprintf("downloading %3.0f%%", s.Progress*100)
	case domain.StateDownloaded:
		return "downloaded " + s.LocalPath
	case domain.StateFailed:
		if s.Detail != "" {
			return fmt.Sprintf("failed (%s: %s)", s.Reason, truncate(s.Detail, 60))
		}
		return fmt.Sprintf("failed (%s)", s.Reason)
	default:
		return string(s.Kind)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
