package mpv

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dexterlb/mpvipc"
)

// ErrCodeUnavailable is reported to OnError when mpv cannot open a video.
// It matches the embedded-player code for "embedding not allowed" so the
// queue treats both the same way.
const ErrCodeUnavailable = 150

// DisplaySettings configures which display to use for the player
type DisplaySettings struct {
	ScreenIndex    int  // Screen index for mpv (0-based, -1 = auto)
	AutoFullscreen bool // Automatically fullscreen on startup
}

// State is a point-in-time view of the player
type State struct {
	Position  float64 `json:"position"`
	Duration  float64 `json:"duration"`
	IsPlaying bool    `json:"isPlaying"`
	Volume    float64 `json:"volume"`
	Muted     bool    `json:"muted"`
}

// Controller drives the mpv instance that shows karaoke videos on the TV
type Controller struct {
	conn       *mpvipc.Connection
	cmd        *exec.Cmd
	socketPath string
	pidFile    string
	executable string
	mu         sync.RWMutex
	adopted    bool // true if we adopted an existing MPV instance

	displaySettings DisplaySettings

	// playingSong is false while the holding screen is shown so its
	// end-file events never reach the queue
	playingSong bool
	loadedID    string

	onReady    func()
	onEnded    func()
	onError    func(code int)
	onDuration func(d time.Duration)
}

// NewController creates a new mpv controller
// executable is the path to the mpv binary (default: "mpv")
func NewController(executable string) *Controller {
	if executable == "" {
		executable = "mpv"
	}
	return &Controller{
		socketPath: getSocketPath(),
		pidFile:    getPidFilePath(),
		executable: executable,
		displaySettings: DisplaySettings{
			ScreenIndex:    -1,
			AutoFullscreen: true,
		},
	}
}

// SetDisplaySettings configures which display to use for the player
func (c *Controller) SetDisplaySettings(settings DisplaySettings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.displaySettings = settings
	log.Printf("[MPV] Display settings updated: screen=%d, fullscreen=%v",
		settings.ScreenIndex, settings.AutoFullscreen)
}

// OnReady is called once a requested video has been loaded
func (c *Controller) OnReady(fn func()) { c.onReady = fn }

// OnEnded is called when a video plays to its end
func (c *Controller) OnEnded(fn func()) { c.onEnded = fn }

// OnError is called when a video cannot be played
func (c *Controller) OnError(fn func(code int)) { c.onError = fn }

// OnDuration is called with the length of each loaded video
func (c *Controller) OnDuration(fn func(d time.Duration)) { c.onDuration = fn }

func getPidFilePath() string {
	return filepath.Join(os.TempDir(), "singalong-mpv.pid")
}

// getSocketPath returns the appropriate IPC socket path for the OS
func getSocketPath() string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\singalong-mpv`
	}
	return filepath.Join(os.TempDir(), "singalong-mpv.sock")
}

// WatchURL returns the URL mpv (through yt-dlp) loads for a video id
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// buildArgs returns the mpv command line for the given settings
func buildArgs(settings DisplaySettings, socketPath, goos string) []string {
	args := []string{
		"--idle=yes",
		"--force-window=yes",
		"--keep-open=no",
		"--input-ipc-server=" + socketPath,
		"--hwdec=auto",
		"--volume=100",
		"--osc=no",
		"--osd-level=1",
		"--ytdl-format=bestvideo[height<=1080]+bestaudio/best",
	}

	if settings.ScreenIndex >= 0 {
		args = append(args,
			fmt.Sprintf("--screen=%d", settings.ScreenIndex),
			fmt.Sprintf("--fs-screen=%d", settings.ScreenIndex))
	}

	if settings.AutoFullscreen {
		args = append(args, "--fullscreen=yes")
	} else {
		args = append(args, "--fullscreen=no")
	}

	switch goos {
	case "darwin":
		args = append(args, "--ao=coreaudio")
	case "windows":
		args = append(args, "--ao=wasapi")
	default:
		args = append(args, "--ao=pipewire,pulse,alsa")
	}
	return args
}

// tryReconnect attempts to connect to an existing MPV instance
func (c *Controller) tryReconnect() bool {
	if runtime.GOOS != "windows" {
		if _, err := os.Stat(c.socketPath); os.IsNotExist(err) {
			return false
		}
	}

	conn := mpvipc.NewConnection(c.socketPath)
	if err := conn.Open(); err != nil {
		log.Printf("[MPV] Failed to connect to existing socket: %v", err)
		return false
	}
	if _, err := conn.Get("mpv-version"); err != nil {
		log.Printf("[MPV] Existing connection unhealthy: %v", err)
		conn.Close()
		return false
	}

	log.Printf("[MPV] Reconnected to existing MPV instance at %s", c.socketPath)
	c.conn = conn
	c.adopted = true
	go c.listenEvents(conn)
	return true
}

func (c *Controller) savePid(pid int) {
	os.WriteFile(c.pidFile, []byte(strconv.Itoa(pid)), 0644)
}

func (c *Controller) readPid() (int, error) {
	data, err := os.ReadFile(c.pidFile)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// cleanupOrphans kills MPV processes left behind by a previous run
func (c *Controller) cleanupOrphans() {
	if pid, err := c.readPid(); err == nil && pid > 0 {
		log.Printf("[MPV] Killing orphaned process %d", pid)
		if proc, err := os.FindProcess(pid); err == nil {
			proc.Kill()
		}
	}

	if runtime.GOOS != "windows" {
		for _, pid := range findPidsByPgrep(c.socketPath) {
			log.Printf("[MPV] Killing orphaned process %d (found via pgrep)", pid)
			if proc, err := os.FindProcess(pid); err == nil {
				proc.Kill()
			}
		}
	}

	os.Remove(c.socketPath)
	os.Remove(c.pidFile)
	time.Sleep(200 * time.Millisecond)
}

func findPidsByPgrep(socketPath string) []int {
	output, err := exec.Command("pgrep", "-f", socketPath).Output()
	if err != nil {
		return nil
	}
	return parsePids(string(output))
}

// parsePids reads one pid per line, skipping anything that is not a number
func parsePids(output string) []int {
	var pids []int
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		if pid, err := strconv.Atoi(strings.TrimSpace(scanner.Text())); err == nil && pid > 0 {
			pids = append(pids, pid)
		}
	}
	return pids
}

// Start launches mpv with IPC enabled, adopting a healthy running instance
// when one is found.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tryReconnect() {
		return nil
	}
	c.cleanupOrphans()

	log.Printf("[MPV] Starting fresh MPV instance")
	c.cmd = exec.Command(c.executable, buildArgs(c.displaySettings, c.socketPath, runtime.GOOS)...)
	c.adopted = false
	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start mpv: %w", err)
	}
	c.savePid(c.cmd.Process.Pid)
	log.Printf("[MPV] Started with PID %d", c.cmd.Process.Pid)

	for i := 0; i < 50; i++ {
		if runtime.GOOS == "windows" {
			probe := mpvipc.NewConnection(c.socketPath)
			if err := probe.Open(); err == nil {
				probe.Close()
				break
			}
		} else if _, err := os.Stat(c.socketPath); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	conn := mpvipc.NewConnection(c.socketPath)
	if err := conn.Open(); err != nil {
		c.cmd.Process.Kill()
		os.Remove(c.pidFile)
		return fmt.Errorf("failed to connect to mpv IPC: %w", err)
	}
	c.conn = conn
	go c.listenEvents(conn)
	return nil
}

// Quit terminates the mpv process
func (c *Controller) Quit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Call("quit")
		c.conn.Close()
		c.conn = nil
	}
	if c.cmd != nil && c.cmd.Process != nil {
		c.cmd.Process.Kill()
		c.cmd = nil
	}

	os.Remove(c.socketPath)
	os.Remove(c.pidFile)
	c.adopted = false
	return nil
}

// IsRunning returns true if mpv is running and connected
func (c *Controller) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.adopted {
		return c.conn != nil
	}
	return c.conn != nil && c.cmd != nil && c.cmd.Process != nil
}

// Load starts loading a video paused; Play is issued once it is ready
func (c *Controller) Load(videoID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("mpv not connected")
	}
	c.playingSong = true
	c.loadedID = videoID

	c.conn.Set("loop-file", "no")
	c.conn.Set("pause", true)
	_, err := c.conn.Call("loadfile", WatchURL(videoID), "replace")
	return err
}

// Stop ends playback and leaves mpv idle
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("mpv not connected")
	}
	c.playingSong = false
	c.loadedID = ""
	_, err := c.conn.Call("stop")
	return err
}

// Play starts or resumes playback
func (c *Controller) Play() error {
	return c.set("pause", false)
}

// Pause pauses playback
func (c *Controller) Pause() error {
	return c.set("pause", true)
}

// TogglePlay flips between playing and paused
func (c *Controller) TogglePlay() error {
	return c.cycle("pause")
}

// ToggleMute flips the mute state
func (c *Controller) ToggleMute() error {
	return c.cycle("mute")
}

// Restart plays the current video from the start
func (c *Controller) Restart() error {
	if err := c.Seek(0); err != nil {
		return err
	}
	return c.Play()
}

// SetVolume sets the playback volume, clamped to 0-100
func (c *Controller) SetVolume(volume int) error {
	return c.set("volume", float64(clampVolume(volume)))
}

// Seek seeks to a position in seconds
func (c *Controller) Seek(position float64) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil {
		return fmt.Errorf("mpv not connected")
	}
	_, err := c.conn.Call("seek", position, "absolute")
	return err
}

// LoadImage shows a still image indefinitely, used for the holding screen
func (c *Controller) LoadImage(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("mpv not connected")
	}
	c.playingSong = false
	c.loadedID = ""

	c.conn.Set("image-display-duration", "inf")
	c.conn.Set("loop-file", "inf")
	_, err := c.conn.Call("loadfile", path, "replace")
	if err == nil {
		c.conn.Set("pause", false)
	}
	return err
}

// ShowOverlay displays text on screen for a number of milliseconds
func (c *Controller) ShowOverlay(text string, durationMs int) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil {
		return fmt.Errorf("mpv not connected")
	}
	_, err := c.conn.Call("show-text", text, durationMs, 1)
	return err
}

// GetState returns the current player state
func (c *Controller) GetState() (State, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state := State{}
	if c.conn == nil {
		return state, fmt.Errorf("mpv not connected")
	}

	state.Position = getFloat(c.conn, "time-pos")
	state.Duration = getFloat(c.conn, "duration")
	state.Volume = getFloat(c.conn, "volume")
	if v, err := c.conn.Get("pause"); err == nil {
		if b, ok := v.(bool); ok {
			state.IsPlaying = !b
		}
	}
	if v, err := c.conn.Get("mute"); err == nil {
		if b, ok := v.(bool); ok {
			state.Muted = b
		}
	}
	return state, nil
}

func (c *Controller) set(property string, value interface{}) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil {
		return fmt.Errorf("mpv not connected")
	}
	return c.conn.Set(property, value)
}

func (c *Controller) cycle(property string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil {
		return fmt.Errorf("mpv not connected")
	}
	_, err := c.conn.Call("cycle", property)
	return err
}

func getFloat(conn *mpvipc.Connection, property string) float64 {
	v, err := conn.Get(property)
	if err != nil || v == nil {
		return 0
	}
	f, _ := v.(float64)
	return f
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// endReason normalises the end-file reason, which mpv reports either as a
// string or as its enum value.
func endReason(extra map[string]interface{}) string {
	switch r := extra["reason"].(type) {
	case string:
		return r
	case float64:
		switch int(r) {
		case 0:
			return "eof"
		case 1:
			return "stop"
		case 2:
			return "quit"
		case 3:
			return "error"
		case 4:
			return "redirect"
		}
	}
	return "unknown"
}

// endOutcome is what an end-file event means for the current song
type endOutcome int

const (
	endIgnored endOutcome = iota
	endFinished
	endFailed
)

func classifyEnd(reason string, playingSong bool) endOutcome {
	if !playingSong {
		return endIgnored
	}
	switch reason {
	case "eof":
		return endFinished
	case "error":
		return endFailed
	}
	return endIgnored
}

// listenEvents turns mpv events into player callbacks
func (c *Controller) listenEvents(conn *mpvipc.Connection) {
	events, stopListening := conn.NewEventListener()
	defer close(stopListening)

	for event := range events {
		switch event.Name {
		case "file-loaded":
			c.mu.RLock()
			playing := c.playingSong
			c.mu.RUnlock()
			if !playing {
				continue
			}
			if c.onDuration != nil {
				if secs := getFloat(conn, "duration"); secs > 0 {
					c.onDuration(time.Duration(secs * float64(time.Second)))
				}
			}
			if c.onReady != nil {
				c.onReady()
			}

		case "end-file":
			reason := endReason(event.ExtraData)
			c.mu.Lock()
			outcome := classifyEnd(reason, c.playingSong)
			videoID := c.loadedID
			if outcome != endIgnored {
				c.playingSong = false
			}
			c.mu.Unlock()

			switch outcome {
			case endFinished:
				log.Printf("[MPV] %s finished", videoID)
				if c.onEnded != nil {
					c.onEnded()
				}
			case endFailed:
				log.Printf("[MPV] %s failed to play: %v", videoID, event.ExtraData["file_error"])
				if c.onError != nil {
					c.onError(ErrCodeUnavailable)
				}
			}
		}
	}
}
