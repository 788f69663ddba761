package calling

// Config carries everything the SIP engine needs. Filled from the main
// configuration so this package stays independent of viper.
type Config struct {
	Extension string
	AuthID    string
	Password  string
	Server    string
	Port      int
	Transport string
	LocalPort int

	RTPPortMin int
	RTPPortMax int

	ExpirySeconds int
	AnswerDelayMs int

	SampleRate  int
	FrameTimeMs int
}

func (c *Config) fillDefaults() {
	if c.Port == 0 {
		c.Port = 5060
	}
	if c.Transport == "" {
		c.Transport = "udp"
	}
	if c.LocalPort == 0 {
		c.LocalPort = 5080
	}
	if c.RTPPortMin == 0 {
		c.RTPPortMin = 10000
	}
	if c.RTPPortMax == 0 {
		c.RTPPortMax = 10100
	}
	if c.ExpirySeconds == 0 {
		c.ExpirySeconds = 300
	}
	if c.SampleRate == 0 {
		c.SampleRate = 8000
	}
	if c.FrameTimeMs == 0 {
		c.FrameTimeMs = 20
	}
	if c.AuthID == "" {
		c.AuthID = c.Extension
	}
}
