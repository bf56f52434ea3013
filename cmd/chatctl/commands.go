package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

const defaultServerURL = "http://localhost:8080"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "chatctl",
		Short:         "Client for the chat history service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("server", envOr("CHATCTL_SERVER", defaultServerURL), "Chat history service base URL")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "HTTP timeout")

	rootCmd.AddCommand(newSubmitCmd())
	rootCmd.AddCommand(newListCmd())
	return rootCmd
}

func newSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a chat transcript",
		Long: `Submit a JSON array of {"sender","message","tts_audio_link"} objects.
Example: chatctl submit --file transcript.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")

			payload, err := readPayload(cmd.InOrStdin(), path)
			if err != nil {
				return err
			}

			body, err := submitChatHistory(newClient(cmd), string(payload))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), body)
			return nil
		},
	}

	cmd.Flags().StringP("file", "f", "-", "Transcript file, - for stdin")
	return cmd
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print stored chat history rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			afterID, _ := cmd.Flags().GetInt64("after-id")
			limit, _ := cmd.Flags().GetInt("limit")

			page, err := listChatHistory(newClient(cmd), afterID, limit)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(page)
		},
	}

	cmd.Flags().Int64("after-id", 0, "Only rows with a greater id")
	cmd.Flags().Int("limit", 50, "Maximum rows to return")
	return cmd
}

func newClient(cmd *cobra.Command) *resty.Client {
	server, _ := cmd.Flags().GetString("server")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return resty.New().SetBaseURL(server).SetTimeout(timeout)
}

func readPayload(stdin io.Reader, path string) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type listResponse struct {
	Entries []struct {
		ID           int64   `json:"id"`
		Sender       string  `json:"sender"`
		Message      string  `json:"message"`
		TTSAudioLink *string `json:"tts_audio_link"`
	} `json:"entries"`
	NextAfterID int64 `json:"next_after_id"`
}

func submitChatHistory(client *resty.Client, payload string) (string, error) {
	resp, err := client.R().
		SetFormData(map[string]string{"chat_history": payload}).
		Post("/chat_history")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
	}
	return resp.String(), nil
}

func listChatHistory(client *resty.Client, afterID int64, limit int) (*listResponse, error) {
	var out listResponse
	resp, err := client.R().
		SetQueryParams(map[string]string{
			"after_id": strconv.FormatInt(afterID, 10),
			"limit":    strconv.Itoa(limit),
		}).
		SetResult(&out).
		Get("/chat_history")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
	}
	return &out, nil
}
