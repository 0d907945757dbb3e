package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Matrix  MatrixConfig
	Session SessionConfig
	Exit    ExitConfig
	Log     LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		Matrix:  loadMatrixConfig(),
		Session: session,
		Exit: ExitConfig{
			URLA: strings.TrimSpace(os.Getenv("EXIT_URL_A")),
			URLB: strings.TrimSpace(os.Getenv("EXIT_URL_B")),
		},
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Pretty: envBool("LOG_PRETTY"),
		},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	addr, err := ParseAddr(os.Getenv("PORT"))
	if err != nil {
		return ServerConfig{}, err
	}
	return ServerConfig{Addr: addr, AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS"))}, nil
}

// ParseAddr 将 PORT 形式的值转换为监听地址，空值默认 8080。
func ParseAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// MatrixConfig 描述中继房间与客服身份。
type MatrixConfig struct {
	Homeserver  string
	UserID      string
	AccessToken string
	Password    string
	DeviceName  string
	RoomID      string
	OperatorID  string

	// LeaveWhenEmpty 为真时，最后一个会话结束后中继身份离开房间。
	LeaveWhenEmpty bool
}

// Validate 返回缺失字段的具体错误。
func (c MatrixConfig) Validate() error {
	var missing []string
	if c.Homeserver == "" {
		missing = append(missing, "MATRIX_HOMESERVER")
	}
	if c.RoomID == "" {
		missing = append(missing, "MATRIX_ROOM_ID")
	}
	if c.OperatorID == "" {
		missing = append(missing, "MATRIX_OPERATOR_ID")
	}
	if c.AccessToken == "" && (c.UserID == "" || c.Password == "") {
		missing = append(missing, "MATRIX_ACCESS_TOKEN or MATRIX_USER_ID+MATRIX_PASSWORD")
	}
	if len(missing) > 0 {
		return fmt.Errorf("matrix relay not configured: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func loadMatrixConfig() MatrixConfig {
	return MatrixConfig{
		Homeserver:  strings.TrimSpace(os.Getenv("MATRIX_HOMESERVER")),
		UserID:      strings.TrimSpace(os.Getenv("MATRIX_USER_ID")),
		AccessToken: strings.TrimSpace(os.Getenv("MATRIX_ACCESS_TOKEN")),
		Password:    os.Getenv("MATRIX_PASSWORD"),
		DeviceName:  getEnvOrDefault("MATRIX_DEVICE_NAME", "safe-connect-relay"),
		RoomID:      strings.TrimSpace(os.Getenv("MATRIX_ROOM_ID")),
		OperatorID:  strings.TrimSpace(os.Getenv("MATRIX_OPERATOR_ID")),

		LeaveWhenEmpty: envBool("MATRIX_LEAVE_WHEN_EMPTY"),
	}
}

// SessionConfig 描述会话超时与紧急退出参数。
type SessionConfig struct {
	InactivityTimeout time.Duration
	CancelPresses     int
	CancelWindow      time.Duration
}

// DefaultSessionConfig 返回默认值：30 分钟无操作、1 秒内 3 次取消键。
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		InactivityTimeout: 30 * time.Minute,
		CancelPresses:     3,
		CancelWindow:      time.Second,
	}
}

func loadSessionConfig() (SessionConfig, error) {
	cfg := DefaultSessionConfig()

	timeout, err := parseOptionalDurationEnv("INACTIVITY_TIMEOUT")
	if err != nil {
		return SessionConfig{}, err
	}
	if timeout != nil {
		if *timeout <= 0 {
			return SessionConfig{}, fmt.Errorf("invalid INACTIVITY_TIMEOUT value %q: must be positive", timeout.String())
		}
		cfg.InactivityTimeout = *timeout
	}

	presses, err := parseOptionalIntEnv("CANCEL_PRESSES")
	if err != nil {
		return SessionConfig{}, err
	}
	if presses != nil {
		if *presses < 1 {
			cfg.CancelPresses = 1
		} else {
			cfg.CancelPresses = *presses
		}
	}

	window, err := parseOptionalDurationEnv("CANCEL_WINDOW")
	if err != nil {
		return SessionConfig{}, err
	}
	if window != nil && *window > 0 {
		cfg.CancelWindow = *window
	}

	return cfg, nil
}

// ExitConfig 描述紧急退出时跳转的伪装页面。
type ExitConfig struct {
	URLA string
	URLB string
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Pretty bool
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func envBool(key string) bool {
	val, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return err == nil && val
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalDurationEnv(key string) (*time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
