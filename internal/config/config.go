// Package config provides centralized configuration management.
// Every simulation, scheduling and transport tunable lives here.
//
// Values are resolved in three layers: Default(), then an optional
// YAML or TOML file, then environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port" toml:"port"`
	DebugAddr   string   `yaml:"debug_addr" toml:"debug_addr"`     // pprof + /metrics, localhost only
	EnableDebug bool     `yaml:"enable_debug" toml:"enable_debug"` // start the debug server
	CORSOrigins []string `yaml:"cors_origins" toml:"cors_origins"`
	AdminToken  string   `yaml:"admin_token" toml:"admin_token"` // bearer token for room create/delete; empty leaves them open
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:        3000,
		DebugAddr:   "127.0.0.1:6060",
		EnableDebug: true,
		CORSOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
	}
}

// =============================================================================
// SIMULATION CONFIGURATION
// =============================================================================

// SimulationConfig holds every physics and world constant used by the engine.
// None of these are derived; they only need to preserve the qualitative rules
// (bigger is slower, meaningfully bigger eats smaller, similar sizes bounce).
type SimulationConfig struct {
	MapWidth  float64 `yaml:"map_width" toml:"map_width"`
	MapHeight float64 `yaml:"map_height" toml:"map_height"`
	CellSize  float64 `yaml:"cell_size" toml:"cell_size"` // spatial grid cell edge in world units
	AOIRings  int     `yaml:"aoi_rings" toml:"aoi_rings"` // Chebyshev ring radius of the area of interest

	FoodTarget     int     `yaml:"food_target" toml:"food_target"`
	FoodSpawnBatch int     `yaml:"food_spawn_batch" toml:"food_spawn_batch"` // max food spawned per tick
	FoodSize       float64 `yaml:"food_size" toml:"food_size"`
	BigFoodSize    float64 `yaml:"big_food_size" toml:"big_food_size"`
	BigFoodChance  float64 `yaml:"big_food_chance" toml:"big_food_chance"`

	BaseSize float64 `yaml:"base_size" toml:"base_size"` // spawn size
	MinSize  float64 `yaml:"min_size" toml:"min_size"`   // size floor

	BaseSpeed          float64 `yaml:"base_speed" toml:"base_speed"` // world units per second
	SpeedThresholdSize float64 `yaml:"speed_threshold_size" toml:"speed_threshold_size"`
	SpeedReduction     float64 `yaml:"speed_reduction" toml:"speed_reduction"` // cap ratio lost per unit of size above threshold
	MinSpeedRatio      float64 `yaml:"min_speed_ratio" toml:"min_speed_ratio"`

	Damping           float64 `yaml:"damping" toml:"damping"`                       // velocity multiplier per tick
	ConsumptionFactor float64 `yaml:"consumption_factor" toml:"consumption_factor"` // size gained per unit of food size
	AbsorptionFactor  float64 `yaml:"absorption_factor" toml:"absorption_factor"`   // size gained per unit of eliminated size
	EliminationRatio  float64 `yaml:"elimination_ratio" toml:"elimination_ratio"`
	SeparationPush    float64 `yaml:"separation_push" toml:"separation_push"` // world units each similar-sized player is pushed

	InputHistory int `yaml:"input_history" toml:"input_history"`
}

// DefaultSimulation returns the reference tuning.
func DefaultSimulation() SimulationConfig {
	return SimulationConfig{
		MapWidth:  4096,
		MapHeight: 4096,
		CellSize:  256,
		AOIRings:  3,

		FoodTarget:     500,
		FoodSpawnBatch: 10,
		FoodSize:       5,
		BigFoodSize:    12,
		BigFoodChance:  0.05,

		BaseSize: 20,
		MinSize:  10,

		BaseSpeed:          220,
		SpeedThresholdSize: 20,
		SpeedReduction:     0.004,
		MinSpeedRatio:      0.35,

		Damping:           0.95,
		ConsumptionFactor: 0.1,
		AbsorptionFactor:  0.8,
		EliminationRatio:  1.1,
		SeparationPush:    2,

		InputHistory: 20,
	}
}

// =============================================================================
// ROOM SCHEDULING CONFIGURATION
// =============================================================================

// RoomsConfig controls the room registry and per-room loops.
type RoomsConfig struct {
	TickRate          int           `yaml:"tick_rate" toml:"tick_rate"`           // simulation Hz
	BroadcastRate     int           `yaml:"broadcast_rate" toml:"broadcast_rate"` // snapshot Hz
	MaxPlayersPerRoom int           `yaml:"max_players_per_room" toml:"max_players_per_room"`
	MaxRooms          int           `yaml:"max_rooms" toml:"max_rooms"`
	AFKTimeout        time.Duration `yaml:"afk_timeout" toml:"afk_timeout"`
	EmptyRoomGrace    time.Duration `yaml:"empty_room_grace" toml:"empty_room_grace"`
	AutoCreate        bool          `yaml:"auto_create" toml:"auto_create"` // create rooms on first join
	InboxSize         int           `yaml:"inbox_size" toml:"inbox_size"`
	LeaderboardSize   int           `yaml:"leaderboard_size" toml:"leaderboard_size"`
	LeaderboardEvery  time.Duration `yaml:"leaderboard_every" toml:"leaderboard_every"`
}

// DefaultRooms returns the reference scheduling configuration.
func DefaultRooms() RoomsConfig {
	return RoomsConfig{
		TickRate:          20,
		BroadcastRate:     15,
		MaxPlayersPerRoom: 50,
		MaxRooms:          100,
		AFKTimeout:        5 * time.Second,
		EmptyRoomGrace:    10 * time.Second,
		AutoCreate:        true,
		InboxSize:         512,
		LeaderboardSize:   10,
		LeaderboardEvery:  time.Second,
	}
}

// =============================================================================
// SNAPSHOT CONFIGURATION
// =============================================================================

// SnapshotConfig controls delta suppression and quantization.
type SnapshotConfig struct {
	Epsilon   float64 `yaml:"epsilon" toml:"epsilon"`     // movement below this is not re-sent
	Precision int     `yaml:"precision" toml:"precision"` // decimal places kept on the wire
}

// DefaultSnapshot returns the reference snapshot configuration.
func DefaultSnapshot() SnapshotConfig {
	return SnapshotConfig{
		Epsilon:   0.1,
		Precision: 1,
	}
}

// =============================================================================
// LOGGING & RATE LIMITING
// =============================================================================

// LoggingConfig selects zap level and encoder.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // "json" or "console"
}

// RateLimitConfig bounds what a single client may push at the server.
type RateLimitConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second" toml:"requests_per_second"` // HTTP, per IP
	Burst             int           `yaml:"burst" toml:"burst"`
	InputsPerSecond   float64       `yaml:"inputs_per_second" toml:"inputs_per_second"` // WebSocket input frames, per connection
	InputBurst        int           `yaml:"input_burst" toml:"input_burst"`
	MaxConnsPerIP     int           `yaml:"max_conns_per_ip" toml:"max_conns_per_ip"`
	MaxConnsTotal     int           `yaml:"max_conns_total" toml:"max_conns_total"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval" toml:"cleanup_interval"` // stale per-IP limiter eviction
}

// DefaultRateLimit returns production-safe defaults.
func DefaultRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 10,
		Burst:             20,
		InputsPerSecond:   60,
		InputBurst:        30,
		MaxConnsPerIP:     10,
		MaxConnsTotal:     2000,
		CleanupInterval:   5 * time.Minute,
	}
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Simulation SimulationConfig `yaml:"simulation" toml:"simulation"`
	Rooms      RoomsConfig      `yaml:"rooms" toml:"rooms"`
	Snapshot   SnapshotConfig   `yaml:"snapshot" toml:"snapshot"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" toml:"rate_limit"`
}

// Default returns the complete configuration without any overrides.
func Default() AppConfig {
	return AppConfig{
		Server:     DefaultServer(),
		Simulation: DefaultSimulation(),
		Rooms:      DefaultRooms(),
		Snapshot:   DefaultSnapshot(),
		Logging:    LoggingConfig{Level: "info", Format: "json"},
		RateLimit:  DefaultRateLimit(),
	}
}

// Load resolves defaults, the optional file at path and environment overrides.
// An empty path skips the file layer.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return AppConfig{}, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *AppConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config %s: unsupported extension %q", path, filepath.Ext(path))
	}
	return nil
}

// applyEnv overrides file/default values. Environment variables take precedence.
func applyEnv(cfg *AppConfig) {
	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Server.Port = p
	}
	if v := os.Getenv("DEBUG_ADDR"); v != "" {
		cfg.Server.DebugAddr = v
	}
	if os.Getenv("DISABLE_DEBUG_SERVER") == "true" {
		cfg.Server.EnableDebug = false
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}

	sim := &cfg.Simulation
	if v := getEnvFloat("MAP_WIDTH", 0); v > 0 {
		sim.MapWidth = v
	}
	if v := getEnvFloat("MAP_HEIGHT", 0); v > 0 {
		sim.MapHeight = v
	}
	if v := getEnvFloat("CELL_SIZE", 0); v > 0 {
		sim.CellSize = v
	}
	if v := getEnvInt("AOI_RINGS", 0); v > 0 {
		sim.AOIRings = v
	}
	if v := getEnvInt("FOOD_TARGET", -1); v >= 0 {
		sim.FoodTarget = v
	}
	if v := getEnvFloat("ELIMINATION_RATIO", 0); v > 0 {
		sim.EliminationRatio = v
	}
	if v := getEnvFloat("DAMPING", 0); v > 0 {
		sim.Damping = v
	}
	if v := getEnvFloat("BASE_SPEED", 0); v > 0 {
		sim.BaseSpeed = v
	}

	rooms := &cfg.Rooms
	if v := getEnvInt("TICK_RATE", 0); v > 0 {
		rooms.TickRate = v
	}
	if v := getEnvInt("BROADCAST_RATE", 0); v > 0 {
		rooms.BroadcastRate = v
	}
	if v := getEnvInt("MAX_PLAYERS_PER_ROOM", 0); v > 0 {
		rooms.MaxPlayersPerRoom = v
	}
	if v := getEnvInt("MAX_ROOMS", 0); v > 0 {
		rooms.MaxRooms = v
	}
	if v := getEnvDuration("AFK_TIMEOUT", 0); v > 0 {
		rooms.AFKTimeout = v
	}
	if v := getEnvDuration("EMPTY_ROOM_GRACE", 0); v > 0 {
		rooms.EmptyRoomGrace = v
	}
	if os.Getenv("AUTO_CREATE_ROOMS") == "false" {
		rooms.AutoCreate = false
	}

	if v := getEnvFloat("SNAPSHOT_EPSILON", 0); v > 0 {
		cfg.Snapshot.Epsilon = v
	}
	if v := getEnvInt("SNAPSHOT_PRECISION", -1); v >= 0 {
		cfg.Snapshot.Precision = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// Validate rejects configurations the simulation cannot run with.
func (c AppConfig) Validate() error {
	s := c.Simulation
	switch {
	case s.MapWidth <= 0 || s.MapHeight <= 0:
		return fmt.Errorf("map dimensions must be positive, got %vx%v", s.MapWidth, s.MapHeight)
	case s.CellSize <= 0:
		return fmt.Errorf("cell size must be positive, got %v", s.CellSize)
	case s.AOIRings < 0:
		return fmt.Errorf("aoi rings must not be negative, got %d", s.AOIRings)
	case s.MinSize <= 0 || s.BaseSize < s.MinSize:
		return fmt.Errorf("base size %v must be at least min size %v > 0", s.BaseSize, s.MinSize)
	case s.Damping <= 0 || s.Damping > 1:
		return fmt.Errorf("damping must be in (0,1], got %v", s.Damping)
	case s.EliminationRatio <= 1:
		return fmt.Errorf("elimination ratio must exceed 1, got %v", s.EliminationRatio)
	case s.MinSpeedRatio <= 0 || s.MinSpeedRatio > 1:
		return fmt.Errorf("min speed ratio must be in (0,1], got %v", s.MinSpeedRatio)
	case s.FoodTarget < 0 || s.FoodSpawnBatch < 0:
		return fmt.Errorf("food target and spawn batch must not be negative")
	}

	r := c.Rooms
	switch {
	case r.TickRate <= 0 || r.BroadcastRate <= 0:
		return fmt.Errorf("tick rate and broadcast rate must be positive")
	case r.BroadcastRate > r.TickRate:
		return fmt.Errorf("broadcast rate %d exceeds tick rate %d", r.BroadcastRate, r.TickRate)
	case r.MaxPlayersPerRoom <= 0 || r.MaxRooms <= 0:
		return fmt.Errorf("room capacities must be positive")
	case r.AFKTimeout <= 0:
		return fmt.Errorf("afk timeout must be positive")
	case r.EmptyRoomGrace < 0:
		return fmt.Errorf("empty room grace must not be negative")
	case r.InboxSize <= 0:
		return fmt.Errorf("inbox size must be positive")
	case r.LeaderboardEvery <= 0 || r.LeaderboardSize < 0:
		return fmt.Errorf("leaderboard interval must be positive and size not negative")
	}

	if c.Snapshot.Precision < 0 || c.Snapshot.Epsilon < 0 {
		return fmt.Errorf("snapshot precision and epsilon must not be negative")
	}
	return nil
}

// TickInterval is the duration between simulation steps.
func (r RoomsConfig) TickInterval() time.Duration {
	return time.Second / time.Duration(r.TickRate)
}

// BroadcastInterval is the duration between snapshot broadcasts.
func (r RoomsConfig) BroadcastInterval() time.Duration {
	return time.Second / time.Duration(r.BroadcastRate)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
