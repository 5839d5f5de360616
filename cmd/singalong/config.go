package main

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
	usage        string
}

var (
	port = configVar[int]{
		envKey:       "PORT",
		flagKey:      "port",
		defaultValue: 8080,
		usage:        "HTTP server port",
	}
	dataDir = configVar[string]{
		envKey:       "DATA_DIR",
		flagKey:      "data",
		defaultValue: "./data",
		usage:        "Data directory for the local store and songbook",
	}
	staticDir = configVar[string]{
		envKey:       "STATIC_DIR",
		flagKey:      "static",
		defaultValue: "../frontend/dist",
		usage:        "Static files directory",
	}
	devMode = configVar[bool]{
		envKey:       "DEV_MODE",
		flagKey:      "dev",
		defaultValue: false,
		usage:        "Development mode (enables CORS)",
	}
	redisAddr = configVar[string]{
		envKey:       "REDIS_ADDR",
		flagKey:      "redis-addr",
		defaultValue: "",
		usage:        "Shared store address (host:port); empty runs on the local store only",
	}
	redisPassword = configVar[string]{
		envKey:       "REDIS_PASSWORD",
		flagKey:      "redis-password",
		defaultValue: "",
		usage:        "Shared store password",
	}
	redisDB = configVar[int]{
		envKey:       "REDIS_DB",
		flagKey:      "redis-db",
		defaultValue: 0,
		usage:        "Shared store database number",
	}
	redisPrefix = configVar[string]{
		envKey:       "REDIS_PREFIX",
		flagKey:      "redis-prefix",
		defaultValue: "singalong:",
		usage:        "Key prefix in the shared store",
	}
	mpvPath = configVar[string]{
		envKey:       "MPV_PATH",
		flagKey:      "mpv",
		defaultValue: "mpv",
		usage:        "Path to the mpv executable",
	}
	screenIndex = configVar[int]{
		envKey:       "MPV_SCREEN",
		flagKey:      "screen",
		defaultValue: -1,
		usage:        "Display index for the player (-1 = default)",
	}
	youTubeAPIKey = configVar[string]{
		envKey:       "YOUTUBE_API_KEY",
		flagKey:      "youtube-api-key",
		defaultValue: "",
		usage:        "YouTube Data API key; empty searches the built-in song book",
	}
	adminUsername = configVar[string]{
		envKey:       "ADMIN_USERNAME",
		flagKey:      "admin-username",
		defaultValue: "admin",
		usage:        "Admin account created when the directory has none",
	}
	adminPassword = configVar[string]{
		envKey:       "ADMIN_PASSWORD",
		flagKey:      "admin-password",
		defaultValue: "",
		usage:        "Password for the seeded admin account",
	}
	scoringEnabled = configVar[bool]{
		envKey:       "SCORING_ENABLED",
		flagKey:      "scoring",
		defaultValue: true,
		usage:        "Score performances when a song ends",
	}
	scoreDisplay = configVar[time.Duration]{
		envKey:       "SCORE_DISPLAY",
		flagKey:      "score-display",
		defaultValue: 3 * time.Second,
		usage:        "How long the score is shown before the next song",
	}
	reconcilePolicy = configVar[string]{
		envKey:       "RECONCILE_POLICY",
		flagKey:      "reconcile-policy",
		defaultValue: "length",
		usage:        "How pushed account lists are merged: length or record",
	}
	staleAfter = configVar[time.Duration]{
		envKey:       "STALE_AFTER",
		flagKey:      "stale-after",
		defaultValue: 15 * time.Second,
		usage:        "Re-read a shared path when no push arrived for this long",
	}
	publicURL = configVar[string]{
		envKey:       "PUBLIC_URL",
		flagKey:      "public-url",
		defaultValue: "",
		usage:        "URL phones use to join, shown as a QR code on the TV",
	}
	mdnsEnabled = configVar[bool]{
		envKey:       "MDNS_ENABLED",
		flagKey:      "mdns",
		defaultValue: true,
		usage:        "Advertise the node on the LAN over mDNS",
	}
	nodeName = configVar[string]{
		envKey:       "NODE_NAME",
		flagKey:      "name",
		defaultValue: "Singalong",
		usage:        "Name the node advertises on the LAN",
	}
)

// Config holds application configuration
type Config struct {
	Port            int
	DataDir         string
	StaticDir       string
	DevMode         bool
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisPrefix     string
	MPVPath         string
	ScreenIndex     int
	YouTubeAPIKey   string
	AdminUsername   string
	AdminPassword   string
	ScoringEnabled  bool
	ScoreDisplay    time.Duration
	ReconcilePolicy string
	StaleAfter      time.Duration
	PublicURL       string
	MDNSEnabled     bool
	NodeName        string
}

func flagString(v configVar[string]) {
	pflag.String(v.flagKey, v.defaultValue, v.usage)
	bind(v.flagKey, v.envKey, v.defaultValue)
}

func flagInt(v configVar[int]) {
	pflag.Int(v.flagKey, v.defaultValue, v.usage)
	bind(v.flagKey, v.envKey, v.defaultValue)
}

func flagBool(v configVar[bool]) {
	pflag.Bool(v.flagKey, v.defaultValue, v.usage)
	bind(v.flagKey, v.envKey, v.defaultValue)
}

func flagDuration(v configVar[time.Duration]) {
	pflag.Duration(v.flagKey, v.defaultValue, v.usage)
	bind(v.flagKey, v.envKey, v.defaultValue)
}

func bind(flagKey, envKey string, defaultValue any) {
	viper.BindEnv(flagKey, envKey)
	viper.SetDefault(flagKey, defaultValue)
}

// loadConfig resolves flags > env > defaults. The .env file must already
// be loaded into the environment.
func loadConfig() Config {
	flagInt(port)
	flagString(dataDir)
	flagString(staticDir)
	flagBool(devMode)
	flagString(redisAddr)
	flagString(redisPassword)
	flagInt(redisDB)
	flagString(redisPrefix)
	flagString(mpvPath)
	flagInt(screenIndex)
	flagString(youTubeAPIKey)
	flagString(adminUsername)
	flagString(adminPassword)
	flagBool(scoringEnabled)
	flagDuration(scoreDisplay)
	flagString(reconcilePolicy)
	flagDuration(staleAfter)
	flagString(publicURL)
	flagBool(mdnsEnabled)
	flagString(nodeName)
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	return Config{
		Port:            viper.GetInt(port.flagKey),
		DataDir:         viper.GetString(dataDir.flagKey),
		StaticDir:       viper.GetString(staticDir.flagKey),
		DevMode:         viper.GetBool(devMode.flagKey),
		RedisAddr:       viper.GetString(redisAddr.flagKey),
		RedisPassword:   viper.GetString(redisPassword.flagKey),
		RedisDB:         viper.GetInt(redisDB.flagKey),
		RedisPrefix:     viper.GetString(redisPrefix.flagKey),
		MPVPath:         viper.GetString(mpvPath.flagKey),
		ScreenIndex:     viper.GetInt(screenIndex.flagKey),
		YouTubeAPIKey:   viper.GetString(youTubeAPIKey.flagKey),
		AdminUsername:   viper.GetString(adminUsername.flagKey),
		AdminPassword:   viper.GetString(adminPassword.flagKey),
		ScoringEnabled:  viper.GetBool(scoringEnabled.flagKey),
		ScoreDisplay:    viper.GetDuration(scoreDisplay.flagKey),
		ReconcilePolicy: viper.GetString(reconcilePolicy.flagKey),
		StaleAfter:      viper.GetDuration(staleAfter.flagKey),
		PublicURL:       viper.GetString(publicURL.flagKey),
		MDNSEnabled:     viper.GetBool(mdnsEnabled.flagKey),
		NodeName:        viper.GetString(nodeName.flagKey),
	}
}
