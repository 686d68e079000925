package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/cortex-sre/cortex/pkg/domain"
)

var askCmd = &cobra.Command{
	Use:   "ask [query]",
	Short: "Run a query against a cortex server and watch it unfold",
	Long: `Submits a query to a running cortex server, streams the task tree as it
grows and renders the final answer.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		serverURL, _ := cmd.Flags().GetString("server")
		sessionID, _ := cmd.Flags().GetString("session")
		if sessionID == "" {
			sessionID = "cli-" + uuid.NewString()[:8]
		}
		query := strings.Join(args, " ")

		if err := ask(serverURL, sessionID, query); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().String("server", "http://localhost:8080", "Base URL of the cortex server")
	askCmd.Flags().String("session", "", "Session ID (generated when empty)")
}

func ask(serverURL, sessionID, query string) error {
	workflowID, err := initiateQuery(serverURL, sessionID, query)
	if err != nil {
		return err
	}
	fmt.Printf("Workflow %s started\n\n", workflowID)

	status, err := streamProgress(serverURL, sessionID, workflowID)
	if err != nil {
		return err
	}

	answer, err := fetchAnswer(serverURL, workflowID)
	if err != nil {
		return err
	}

	fmt.Println()
	if status != domain.WorkflowCompleted {
		fmt.Printf("Workflow ended %s\n", status)
	}
	return printAnswer(answer)
}

func initiateQuery(serverURL, sessionID, query string) (string, error) {
	body, _ := json.Marshal(map[string]string{"query": query, "session_id": sessionID})
	resp, err := http.Post(serverURL+"/api/v1/initiate", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("initiate failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		var detail map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&detail)
		return "", fmt.Errorf("initiate rejected (%d): %s", resp.StatusCode, detail["detail"])
	}

	var out struct {
		WorkflowID string `json:"workflow_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("initiate response malformed: %w", err)
	}
	return out.WorkflowID, nil
}

// streamProgress prints one line per node update until the stream ends,
// returning the workflow's final status.
func streamProgress(serverURL, sessionID, workflowID string) (domain.WorkflowStatus, error) {
	wsURL := strings.Replace(serverURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL += fmt.Sprintf("/ws/%s/%s", sessionID, workflowID)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return "", fmt.Errorf("stream connect failed: %w", err)
	}
	defer conn.Close()

	status := domain.WorkflowAborted
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return status, nil
			}
			return status, fmt.Errorf("stream closed unexpectedly: %w", err)
		}

		var ev domain.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		payload, _ := json.Marshal(ev.Payload)

		switch ev.Type {
		case domain.EventNode:
			var node domain.Node
			if err := json.Unmarshal(payload, &node); err == nil {
				printNodeLine(node)
			}
		case domain.EventWorkflow:
			var upd domain.WorkflowUpdate
			if err := json.Unmarshal(payload, &upd); err == nil {
				status = upd.Status
			}
		case domain.EventError:
			var detail struct {
				Detail string `json:"detail"`
			}
			if err := json.Unmarshal(payload, &detail); err == nil && detail.Detail != "" {
				printErrorLine(detail.Detail)
			}
		}
	}
}

func printNodeLine(node domain.Node) {
	p := termenv.ColorProfile()
	indent := strings.Repeat("  ", node.Depth)

	glyph := termenv.String("○").Foreground(p.Color("8"))
	switch node.Status {
	case domain.StatusProcessing:
		glyph = termenv.String("◐").Foreground(p.Color("3"))
	case domain.StatusCompleted:
		glyph = termenv.String("●").Foreground(p.Color("2"))
	case domain.StatusFailed:
		glyph = termenv.String("✗").Foreground(p.Color("1"))
	}

	fmt.Printf("%s%s %s [%s]\n", indent, glyph, node.Label, node.Status)
}

func printErrorLine(detail string) {
	p := termenv.ColorProfile()
	fmt.Println(termenv.String("! " + detail).Foreground(p.Color("1")))
}

// fetchAnswer pulls the final snapshot and extracts the root node's output.
func fetchAnswer(serverURL, workflowID string) (string, error) {
	resp, err := http.Get(serverURL + "/api/v1/workflows/" + workflowID)
	if err != nil {
		return "", fmt.Errorf("snapshot fetch failed: %w", err)
	}
	defer resp.Body.Close()

	var view struct {
		Nodes []domain.Node `json:"nodes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return "", fmt.Errorf("snapshot malformed: %w", err)
	}

	for _, n := range view.Nodes {
		if n.Type == domain.NodeTypeQuery && n.Data != nil {
			if s, ok := n.Data.Output.(string); ok {
				return s, nil
			}
			if n.Data.Error != "" {
				return "", fmt.Errorf("workflow failed: %s", n.Data.Error)
			}
		}
	}
	return "", fmt.Errorf("no answer in workflow snapshot")
}

// printAnswer renders markdown when stdout is a terminal, plain otherwise.
func printAnswer(answer string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println(answer)
		return nil
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
	)
	if err != nil {
		fmt.Println(answer)
		return nil
	}
	rendered, err := r.Render(answer)
	if err != nil {
		fmt.Println(answer)
		return nil
	}
	fmt.Print(rendered)
	return nil
}
