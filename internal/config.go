package internal

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

type Config struct {
	LogLevel             string        `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR"`
	Host                 string        `env:"HOST,default=0.0.0.0" validate:"required"`
	HTTPPort             int           `env:"HTTP_PORT,default=8080" validate:"min=1,max=65535"`
	GRPCPort             int           `env:"GRPC_PORT,default=9090" validate:"min=1,max=65535,nefield=HTTPPort"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH,required=true" validate:"required"`
	DirectoryFilepath    string        `env:"DIRECTORY_FILEPATH,required=true" validate:"required"`
	JWTSecret            string        `env:"JWT_SECRET,required=true" validate:"min=16"`
	AuthTokenDuration    time.Duration `env:"AUTH_TOKEN_DURATION,default=24h" validate:"gt=0"`
	BufferSize           int           `env:"BUFFER_SIZE,default=1024" validate:"gt=0"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=256" validate:"gt=0"`
	NumberOfWorkers      int           `env:"NUMBER_OF_WORKERS,default=8" validate:"gt=0"`
	SinkTimeout          time.Duration `env:"SINK_TIMEOUT,default=100ms" validate:"gt=0"`
	LatencyThreshold     time.Duration `env:"LATENCY_THRESHOLD,default=500ms" validate:"gte=0"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=1s" validate:"gt=0"`
	MetricInterval       time.Duration `env:"METRIC_INTERVAL,default=5s" validate:"gt=0"`
	TypingTTL            time.Duration `env:"TYPING_TTL,default=3s" validate:"gt=0"`
	ReconcileInterval    time.Duration `env:"RECONCILE_INTERVAL,default=1m" validate:"gt=0"`
	LimitMessages        *int          `env:"LIMIT_MESSAGES" validate:"omitempty,gt=0"`
	MaxContentLength     int           `env:"MAX_CONTENT_LENGTH,default=2000" validate:"gt=0"`
	CharReplacement      string        `env:"CHARACTER_REPLACEMENT,default=*"`
	DefaultCountry       string        `env:"DEFAULT_COUNTRY"`
	ExclusiveCommunity   bool          `env:"EXCLUSIVE_COMMUNITY,default=false"`
	RateLimitRPS         float64       `env:"RATE_LIMIT_RPS,default=20" validate:"gt=0"`
	RateLimitBurst       int           `env:"RATE_LIMIT_BURST,default=40" validate:"gt=0"`
	PingInterval         time.Duration `env:"PING_INTERVAL,default=30s" validate:"gt=0"`
	ShutdownTimeout      time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s" validate:"gt=0"`
	DebugPort            int           `env:"DEBUG_PORT,default=0" validate:"omitempty,min=1,max=65535"`
}

// LoadConfig reads an optional .env file then the environment. Variables
// already set in the environment win over the file.
func LoadConfig(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := validate.Struct(config); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if _, err := CharacterRune(config.CharReplacement); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) HTTPAddress() string { return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort) }

func (c Config) GRPCAddress() string { return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort) }

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
