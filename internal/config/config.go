package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	SIP      SIPConfig      `mapstructure:"sip"`
	Gemini   GeminiConfig   `mapstructure:"gemini"`
	Audio    AudioConfig    `mapstructure:"audio"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Log      LogConfig      `mapstructure:"log"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type SIPConfig struct {
	Extension string `mapstructure:"extension"`
	AuthID    string `mapstructure:"auth_id"`
	Password  string `mapstructure:"password"`
	Server    string `mapstructure:"server"`
	Port      int    `mapstructure:"port"`
	Transport string `mapstructure:"transport"`
	// LocalPort is the listening port for SIP signaling, 5080 by default.
	LocalPort int `mapstructure:"local_port"`
	// RTPPortMin/Max bound the per-call media port. 0/0 means any free port.
	RTPPortMin int `mapstructure:"rtp_port_min"`
	RTPPortMax int `mapstructure:"rtp_port_max"`
	// ExpirySeconds is the requested registration lifetime.
	ExpirySeconds int `mapstructure:"expiry_seconds"`
	// RegisterRetrySeconds is the fixed delay between registration attempts.
	RegisterRetrySeconds int `mapstructure:"register_retry_seconds"`
	// MaxRegisterRetries 0 means retry forever.
	MaxRegisterRetries int `mapstructure:"max_register_retries"`
	// AnswerDelayMs delays the 200 OK slightly so the answer feels natural.
	AnswerDelayMs int `mapstructure:"answer_delay_ms"`
}

type GeminiConfig struct {
	APIKey            string `mapstructure:"api_key"`
	Model             string `mapstructure:"model"`
	Voice             string `mapstructure:"voice"`
	SystemInstruction string `mapstructure:"system_instruction"`
	// GreetingTrigger is sent as the first user turn so the model greets the caller.
	GreetingTrigger string `mapstructure:"greeting_trigger"`
	Endpoint        string `mapstructure:"endpoint"`
}

type AudioConfig struct {
	SIPSampleRate    int `mapstructure:"sip_sample_rate"`
	GeminiInputRate  int `mapstructure:"gemini_input_rate"`
	GeminiOutputRate int `mapstructure:"gemini_output_rate"`
	FrameTimeMs      int `mapstructure:"frame_time_ms"`
	QueueCapacity    int `mapstructure:"queue_capacity"`
}

type ToolsConfig struct {
	MCPServers []MCPServerConfig `mapstructure:"mcp_servers"`
}

type MCPServerConfig struct {
	Name      string            `mapstructure:"name"`
	Transport string            `mapstructure:"transport"` // stdio or http
	Command   string            `mapstructure:"command"`
	URL       string            `mapstructure:"url"`
	Env       map[string]string `mapstructure:"env"`
}

func LoadConfig() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: Config file not found, using defaults. Error: %v", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8080"
	}
	if cfg.SIP.Port <= 0 {
		cfg.SIP.Port = 5060
	}
	if cfg.SIP.Transport == "" {
		cfg.SIP.Transport = "udp"
	}
	if cfg.SIP.AuthID == "" {
		// 3CX uses a separate auth ID; fall back to the extension.
		cfg.SIP.AuthID = cfg.SIP.Extension
	}
	if cfg.SIP.ExpirySeconds <= 0 {
		cfg.SIP.ExpirySeconds = 300
	}
	if cfg.SIP.RegisterRetrySeconds <= 0 {
		cfg.SIP.RegisterRetrySeconds = 10
	}
	if cfg.SIP.AnswerDelayMs <= 0 {
		cfg.SIP.AnswerDelayMs = 200
	}
	if cfg.Gemini.Model == "" {
		cfg.Gemini.Model = "gemini-2.0-flash-exp"
	}
	if cfg.Gemini.Voice == "" {
		cfg.Gemini.Voice = "Aoede"
	}
	if cfg.Gemini.SystemInstruction == "" {
		cfg.Gemini.SystemInstruction = "You are a helpful Hungarian home assistant. " +
			"You are concise and witty. Always respond in Hungarian."
	}
	if cfg.Gemini.GreetingTrigger == "" {
		cfg.Gemini.GreetingTrigger = "A hívás most kapcsolódott. Köszöntsd a hívót!"
	}
	if cfg.Audio.SIPSampleRate <= 0 {
		cfg.Audio.SIPSampleRate = 8000
	}
	if cfg.Audio.GeminiInputRate <= 0 {
		cfg.Audio.GeminiInputRate = 16000
	}
	if cfg.Audio.GeminiOutputRate <= 0 {
		cfg.Audio.GeminiOutputRate = 24000
	}
	if cfg.Audio.FrameTimeMs <= 0 {
		cfg.Audio.FrameTimeMs = 20
	}
	if cfg.Audio.QueueCapacity <= 0 {
		cfg.Audio.QueueCapacity = 100
	}

	log.Println("Configuration loaded successfully")
	return &cfg
}
