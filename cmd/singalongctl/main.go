// Command singalongctl drives a singalong node from a terminal: request
// songs, send remote control commands, manage accounts and find nodes on
// the LAN.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"singalong/internal/discovery"
	"singalong/internal/liveness"
	"singalong/internal/scoring"
	"singalong/pkg/models"
)

const usage = `Usage: singalongctl [--node URL] <command> [args]

Commands:
  state                          Show the room state
  request --title T --video ID --singer NAME [--artist A]
  control <command> [--volume N] togglePlay, skip, restart, toggleMute, setVolume
  queue show | clear --password P | skip | remove <id>
  accounts list [--filter all|online|offline] | create --username U --password P [--role user|admin]
  accounts enable <id> | disable <id> | delete <id>
  tv status | enable | disable
  watch [--role singer|tv] [--name NAME]
  heartbeat [--every 10s]        Keep the remote marked connected
  discover [--timeout 3s]

Admin commands read SINGALONG_USERNAME and SINGALONG_PASSWORD.
`

func main() {
	log.SetFlags(0)
	godotenv.Load()

	viper.SetEnvPrefix("singalong")
	viper.AutomaticEnv()
	viper.SetDefault("url", "http://localhost:8080")

	global := pflag.NewFlagSet("singalongctl", pflag.ContinueOnError)
	global.SetInterspersed(false)
	global.String("node", "", "Node base URL (env SINGALONG_URL)")
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := global.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	viper.BindPFlag("url", global.Lookup("node"))

	args := global.Args()
	if len(args) == 0 {
		global.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := newClient(viper.GetString("url"), "")
	if err := run(ctx, c, args[0], args[1:]); err != nil {
		log.Fatalf("singalongctl: %v", err)
	}
}

func run(ctx context.Context, c *client, cmd string, args []string) error {
	switch cmd {
	case "state":
		return showState(ctx, c)
	case "request":
		return requestSong(ctx, c, args)
	case "control":
		return sendControl(ctx, c, args)
	case "queue":
		return queueCmd(ctx, c, args)
	case "accounts":
		return accountsCmd(ctx, c, args)
	case "tv":
		return tvCmd(ctx, c, args)
	case "watch":
		return watch(ctx, c, args)
	case "heartbeat":
		return heartbeat(ctx, c, args)
	case "discover":
		return discover(ctx, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// asAdmin logs in with the credentials from the environment
func asAdmin(ctx context.Context, c *client) error {
	username, password := viper.GetString("username"), viper.GetString("password")
	if username == "" || password == "" {
		return errors.New("SINGALONG_USERNAME and SINGALONG_PASSWORD are required")
	}
	return c.login(ctx, username, password)
}

func showState(ctx context.Context, c *client) error {
	var state models.RoomState
	if err := c.do(ctx, http.MethodGet, "/api/state", nil, &state); err != nil {
		return err
	}
	fmt.Printf("State:   %s\n", state.State)
	fmt.Printf("TV:      %s\n", lo.Ternary(state.TVEnabled, "enabled", "disabled"))
	fmt.Printf("Remote:  %s\n", lo.Ternary(state.PhoneConnected, "connected", "disconnected"))
	if state.Current != nil {
		fmt.Printf("Playing: %s (%s)\n", state.Current.Title, state.Current.Singer)
	}
	printQueue(state.Queue)
	return nil
}

func printQueue(entries []models.QueueEntry) {
	if len(entries) == 0 {
		fmt.Println("Queue is empty")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tARTIST\tSINGER")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.ID, e.Title, e.Artist, e.RequestedBy)
	}
	tw.Flush()
}

func requestSong(ctx context.Context, c *client, args []string) error {
	fs := pflag.NewFlagSet("request", pflag.ContinueOnError)
	title := fs.String("title", "", "Song title")
	artist := fs.String("artist", "", "Artist")
	videoID := fs.String("video", "", "Video id or link")
	singer := fs.String("singer", "", "Singer name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var entry models.QueueEntry
	err := c.do(ctx, http.MethodPost, "/api/queue", map[string]string{
		"title":       *title,
		"artist":      *artist,
		"videoId":     *videoID,
		"requestedBy": *singer,
	}, &entry)
	if err != nil {
		return err
	}
	fmt.Printf("Queued #%d %s for %s\n", entry.ID, entry.Title, entry.RequestedBy)
	return nil
}

func sendControl(ctx context.Context, c *client, args []string) error {
	fs := pflag.NewFlagSet("control", pflag.ContinueOnError)
	volume := fs.Int("volume", -1, "Volume for setVolume (0-100)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("control needs exactly one command")
	}

	body := map[string]any{"command": fs.Arg(0)}
	if *volume >= 0 {
		body["volume"] = *volume
	}
	var cmd models.ControlCommand
	if err := c.do(ctx, http.MethodPost, "/api/control", body, &cmd); err != nil {
		return err
	}
	fmt.Printf("Sent %s (nonce %s)\n", cmd.Command, cmd.Nonce)
	return nil
}

func queueCmd(ctx context.Context, c *client, args []string) error {
	if len(args) == 0 {
		args = []string{"show"}
	}
	switch args[0] {
	case "show":
		var state models.RoomState
		if err := c.do(ctx, http.MethodGet, "/api/state", nil, &state); err != nil {
			return err
		}
		printQueue(state.Queue)
		return nil

	case "clear":
		fs := pflag.NewFlagSet("queue clear", pflag.ContinueOnError)
		password := fs.String("password", viper.GetString("password"), "Admin password")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if err := c.do(ctx, http.MethodPost, "/api/queue/clear", map[string]string{"password": *password}, nil); err != nil {
			return err
		}
		fmt.Println("Queue cleared")
		return nil

	case "skip":
		if err := asAdmin(ctx, c); err != nil {
			return err
		}
		return c.do(ctx, http.MethodPost, "/api/queue/skip", nil, nil)

	case "remove":
		if len(args) != 2 {
			return errors.New("queue remove needs an entry id")
		}
		id, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid entry id %q", args[1])
		}
		if err := asAdmin(ctx, c); err != nil {
			return err
		}
		return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/queue/%d", id), nil, nil)

	default:
		return fmt.Errorf("unknown queue command %q", args[0])
	}
}

type accountRow struct {
	models.Account
	Online bool `json:"online"`
}

func accountsCmd(ctx context.Context, c *client, args []string) error {
	if len(args) == 0 {
		args = []string{"list"}
	}
	if err := asAdmin(ctx, c); err != nil {
		return err
	}

	switch args[0] {
	case "list":
		fs := pflag.NewFlagSet("accounts list", pflag.ContinueOnError)
		filter := fs.String("filter", "all", "all, online or offline")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		var rows []accountRow
		if err := c.do(ctx, http.MethodGet, "/api/admin/accounts?filter="+*filter, nil, &rows); err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tUSERNAME\tROLE\tSTATUS")
		for _, r := range rows {
			status := lo.Ternary(r.Online, "online", "offline")
			if r.Disabled {
				status = "disabled"
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.ID, r.Username, r.Role, status)
		}
		return tw.Flush()

	case "create":
		fs := pflag.NewFlagSet("accounts create", pflag.ContinueOnError)
		username := fs.String("username", "", "Username")
		password := fs.String("password", "", "Password")
		role := fs.String("role", "user", "user or admin")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		var account models.Account
		err := c.do(ctx, http.MethodPost, "/api/admin/accounts", map[string]string{
			"username": *username,
			"password": *password,
			"role":     *role,
		}, &account)
		if err != nil {
			return err
		}
		fmt.Printf("Created %s (id %d)\n", account.Username, account.ID)
		return nil

	case "enable", "disable", "delete":
		if len(args) != 2 {
			return fmt.Errorf("accounts %s needs an account id", args[0])
		}
		id, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid account id %q", args[1])
		}
		if args[0] == "delete" {
			return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/admin/accounts/%d", id), nil, nil)
		}
		body := map[string]bool{"disabled": args[0] == "disable"}
		return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/admin/accounts/%d/disabled", id), body, nil)

	default:
		return fmt.Errorf("unknown accounts command %q", args[0])
	}
}

func tvCmd(ctx context.Context, c *client, args []string) error {
	if len(args) == 0 {
		args = []string{"status"}
	}
	var out struct {
		Enabled bool `json:"enabled"`
	}
	switch args[0] {
	case "status":
		if err := c.do(ctx, http.MethodGet, "/api/tv/enabled", nil, &out); err != nil {
			return err
		}
	case "enable", "disable":
		if err := asAdmin(ctx, c); err != nil {
			return err
		}
		body := map[string]bool{"enabled": args[0] == "enable"}
		if err := c.do(ctx, http.MethodPut, "/api/admin/tv/enabled", body, &out); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown tv command %q", args[0])
	}
	fmt.Printf("TV is %s\n", lo.Ternary(out.Enabled, "enabled", "disabled"))
	return nil
}

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// watch follows the node's websocket and prints what happens
func watch(ctx context.Context, c *client, args []string) error {
	fs := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	role := fs.String("role", "tv", "singer or tv")
	name := fs.String("name", "", "Singer name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	target, err := c.wsURL()
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", target, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	hello, _ := json.Marshal(map[string]string{"role": *role, "name": *name})
	if err := conn.WriteJSON(wsMessage{Type: "handshake", Payload: hello}); err != nil {
		return err
	}

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Println(describe(msg))
	}
}

func describe(msg wsMessage) string {
	stamp := time.Now().Format("15:04:05")
	switch msg.Type {
	case "state_update":
		var s models.RoomState
		json.Unmarshal(msg.Payload, &s)
		playing := "nothing"
		if s.Current != nil {
			playing = fmt.Sprintf("%s (%s)", s.Current.Title, s.Current.Singer)
		}
		return fmt.Sprintf("%s state=%s playing=%s queued=%d", stamp, s.State, playing, len(s.Queue))
	case "score":
		var r scoring.Result
		json.Unmarshal(msg.Payload, &r)
		return fmt.Sprintf("%s %s scored %d on %s", stamp, r.Singer, r.Score, r.Title)
	case "notice", "error", "kicked", "liveness":
		return fmt.Sprintf("%s %s %s", stamp, msg.Type, strings.TrimSpace(string(msg.Payload)))
	default:
		return fmt.Sprintf("%s %s", stamp, msg.Type)
	}
}

// heartbeat stands in for the phone remote until interrupted
func heartbeat(ctx context.Context, c *client, args []string) error {
	fs := pflag.NewFlagSet("heartbeat", pflag.ContinueOnError)
	every := fs.Duration("every", liveness.BeaconInterval, "Heartbeat interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ticker := time.NewTicker(*every)
	defer ticker.Stop()
	for {
		if err := c.do(ctx, http.MethodPost, "/api/activity", nil, nil); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("heartbeat failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func discover(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("discover", pflag.ContinueOnError)
	timeout := fs.Duration("timeout", 3*time.Second, "How long to listen")
	if err := fs.Parse(args); err != nil {
		return err
	}

	nodes, err := discovery.Browse(ctx, *timeout)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		fmt.Println("No nodes found")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tHOST\tPORT\tURL")
	for _, n := range nodes {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", n.Instance, n.Host, n.Port, n.URL)
	}
	return tw.Flush()
}
