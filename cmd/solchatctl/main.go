package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/solchat-dev/solchat/internal/config"
	"github.com/solchat-dev/solchat/internal/session"
	"github.com/solchat-dev/solchat/internal/wallet"
)

func main() {
	addrFlag := flag.String("addr", "", "daemon api address (overrides config)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Keypair generation needs no daemon.
	if args[0] == "keygen" {
		cmdKeygen()
		return
	}

	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	addr := cfg.API.ListenAddr
	if *addrFlag != "" {
		addr = *addrFlag
	}
	c := &client{base: "http://" + addr, hc: &http.Client{Timeout: 30 * time.Second}, jsonOut: *jsonFlag}

	switch args[0] {
	case "status":
		c.get("/v1/status", printStatus)
	case "sync":
		if len(args) >= 2 && args[1] == "clear" {
			c.delete("/v1/sync/cache")
			return
		}
		c.post("/v1/sync", nil, printSyncResult)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: solchatctl send <address> <text>")
			os.Exit(1)
		}
		c.post("/v1/messages", map[string]string{"to": args[1], "content": args[2]}, func(body []byte) {
			var resp struct {
				MsgID string `json:"msgId"`
			}
			_ = json.Unmarshal(body, &resp)
			fmt.Printf("Queued: %s\n", resp.MsgID)
		})
	case "convos":
		c.get("/v1/conversations", printConversations)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: solchatctl messages <address>")
			os.Exit(1)
		}
		c.get("/v1/conversations/"+args[1], printMessages)
	case "read":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: solchatctl read <address>")
			os.Exit(1)
		}
		c.post("/v1/conversations/"+args[1]+"/read", nil, func([]byte) {
			fmt.Println("Marked as read.")
		})
	case "unread":
		c.get("/v1/unread", func(body []byte) {
			var resp map[string]int
			_ = json.Unmarshal(body, &resp)
			fmt.Printf("Unread: %d\n", resp["totalUnread"])
		})
	case "contacts":
		cmdContacts(c, args[1:])
	case "search":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: solchatctl search <query>")
			os.Exit(1)
		}
		c.get("/v1/search?q="+url.QueryEscape(args[1]), printSearchResults)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func cmdContacts(c *client, args []string) {
	if len(args) == 0 {
		args = []string{"list"}
	}
	switch args[0] {
	case "list":
		c.get("/v1/contacts", printContacts)
	case "add":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: solchatctl contacts add <address> [nickname]")
			os.Exit(1)
		}
		body := map[string]any{"address": args[1]}
		if len(args) >= 3 {
			body["nickname"] = args[2]
		}
		c.post("/v1/contacts", body, func([]byte) {
			fmt.Println("Contact saved.")
		})
	case "rm":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: solchatctl contacts rm <address>")
			os.Exit(1)
		}
		c.delete("/v1/contacts/" + args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown contacts subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func cmdKeygen() {
	kp, err := wallet.Generate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	path := session.KeypairPath(kp.Address())
	if err := session.EnsureDir(kp.Address()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := kp.Save(path); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated wallet %s\n", kp.Address())
	fmt.Printf("Keypair saved to %s\n", path)
}

type client struct {
	base    string
	hc      *http.Client
	jsonOut bool
}

func (c *client) do(method, path string, body any, onOK func([]byte)) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon at %s: %v\n", c.base, err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		fmt.Fprintf(os.Stderr, "error: %s\n", e.Error)
		os.Exit(1)
	}
	if c.jsonOut {
		outputJSON(data)
		return
	}
	if onOK != nil {
		onOK(data)
	}
}

func (c *client) get(path string, onOK func([]byte))            { c.do("GET", path, nil, onOK) }
func (c *client) post(path string, body any, onOK func([]byte)) { c.do("POST", path, body, onOK) }
func (c *client) delete(path string) {
	c.do("DELETE", path, nil, func([]byte) { fmt.Println("Done.") })
}

func printStatus(body []byte) {
	var resp struct {
		Wallet    string `json:"wallet"`
		State     string `json:"state"`
		SyncState string `json:"syncState"`
		Stats     *struct {
			TotalPointers  int   `json:"totalPointers"`
			SyncedPointers int   `json:"syncedPointers"`
			PendingRetries int   `json:"pendingRetries"`
			DeadLettered   int   `json:"deadLettered"`
			Conversations  int   `json:"conversations"`
			LastSync       int64 `json:"lastSync"`
		} `json:"stats"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wallet: %s\n", resp.Wallet)
	fmt.Printf("State:  %s\n", resp.State)
	if resp.SyncState != "" {
		fmt.Printf("Sync:   %s\n", resp.SyncState)
	}
	if resp.Stats != nil {
		fmt.Printf("Pointers: %d total, %d synced, %d pending, %d dead\n",
			resp.Stats.TotalPointers, resp.Stats.SyncedPointers,
			resp.Stats.PendingRetries, resp.Stats.DeadLettered)
		if resp.Stats.LastSync > 0 {
			fmt.Printf("Last sync: %s\n", time.UnixMilli(resp.Stats.LastSync).Format(time.RFC3339))
		}
	}
}

func printSyncResult(body []byte) {
	var resp struct {
		TotalSynced          int      `json:"totalSynced"`
		UpdatedConversations []string `json:"updatedConversations"`
		Errors               []string `json:"errors"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Synced %d messages, %d conversations updated\n", resp.TotalSynced, len(resp.UpdatedConversations))
	for _, e := range resp.Errors {
		fmt.Printf("  warning: %s\n", e)
	}
}

func printConversations(body []byte) {
	var sums []struct {
		Counterparty       string `json:"counterparty"`
		LastMessageAt      int64  `json:"lastMessageAt"`
		LastMessagePreview string `json:"lastMessagePreview"`
		UnreadCount        int    `json:"unreadCount"`
	}
	if err := json.Unmarshal(body, &sums); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if len(sums) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, s := range sums {
		unread := ""
		if s.UnreadCount > 0 {
			unread = fmt.Sprintf(" (%d unread)", s.UnreadCount)
		}
		fmt.Printf("%-44s %s%s\n", s.Counterparty, s.LastMessagePreview, unread)
	}
}

func printMessages(body []byte) {
	var st struct {
		Messages []struct {
			From      string `json:"from"`
			Content   string `json:"content"`
			FromMe    bool   `json:"fromMe"`
			Status    string `json:"status"`
			Timestamp int64  `json:"timestamp"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &st); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	for _, m := range st.Messages {
		who := m.From
		if m.FromMe {
			who = "me"
		}
		ts := time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04")
		fmt.Printf("[%s] %s: %s (%s)\n", ts, who, m.Content, m.Status)
	}
}

func printContacts(body []byte) {
	var contacts []struct {
		Address  string `json:"address"`
		Nickname string `json:"nickname"`
	}
	if err := json.Unmarshal(body, &contacts); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if len(contacts) == 0 {
		fmt.Println("No contacts.")
		return
	}
	for _, c := range contacts {
		fmt.Printf("%-44s %s\n", c.Address, c.Nickname)
	}
}

func printSearchResults(body []byte) {
	var results []struct {
		Message struct {
			Counterparty string `json:"counterparty"`
			Timestamp    int64  `json:"timestamp"`
		} `json:"message"`
		Snippet string `json:"snippet"`
	}
	if err := json.Unmarshal(body, &results); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if len(results) == 0 {
		fmt.Println("No matches.")
		return
	}
	for _, r := range results {
		ts := time.UnixMilli(r.Message.Timestamp).Format("2006-01-02")
		fmt.Printf("[%s] %s: %s\n", ts, r.Message.Counterparty, r.Snippet)
	}
}

func outputJSON(data []byte) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		fmt.Fprintf(os.Stderr, "json decode error: %v\n", err)
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: solchatctl [--addr <host:port>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                         Show daemon status")
	fmt.Fprintln(os.Stderr, "  sync                           Trigger a sync cycle")
	fmt.Fprintln(os.Stderr, "  sync clear                     Clear the sync cache")
	fmt.Fprintln(os.Stderr, "  send <address> <text>          Send a message")
	fmt.Fprintln(os.Stderr, "  convos                         List conversations")
	fmt.Fprintln(os.Stderr, "  messages <address>             Show a conversation")
	fmt.Fprintln(os.Stderr, "  read <address>                 Mark a conversation read")
	fmt.Fprintln(os.Stderr, "  unread                         Show total unread count")
	fmt.Fprintln(os.Stderr, "  contacts [list|add|rm]         Manage contacts")
	fmt.Fprintln(os.Stderr, "  search <query>                 Search messages")
	fmt.Fprintln(os.Stderr, "  keygen                         Generate a new wallet keypair")
}
