package config

import (
	cli "github.com/spf13/pflag"
)

// Flags are the command-line overrides. Only flags set explicitly replace
// configured values.
type Flags struct {
	fs *cli.FlagSet

	ConfigPath string
	EnvFile    string
	LogLevel   string
	LogFile    string

	provider string
	model    string
	proxy    string
	socket   string
	noTTS    bool
	noVoice  bool
	listen   bool
	gesture  bool
	wsURL    string
	metrics  string
}

func NewFlags(fs *cli.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVarP(&f.ConfigPath, "config", "c", "boi.yaml", "Config file path")
	fs.StringVarP(&f.EnvFile, "env", "e", ".env", "Env file path")
	fs.StringVarP(&f.LogLevel, "log", "l", "info", "Log level (debug|info|warn|error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Also write JSON logs to this rotated file")

	fs.StringVar(&f.provider, "provider", "", "Language model provider (openai|gemini)")
	fs.StringVarP(&f.model, "model", "m", "", "Language model")
	fs.StringVarP(&f.proxy, "proxy", "p", "", "SOCKS5 proxy address for the language model")
	fs.StringVarP(&f.socket, "socket", "s", "", "Control socket path")
	fs.BoolVar(&f.noTTS, "no-tts", false, "Disable speech output")
	fs.BoolVar(&f.noVoice, "no-voice", false, "Disable the microphone")
	fs.BoolVar(&f.listen, "listen", false, "Start with continuous listening on")
	fs.BoolVar(&f.gesture, "gesture", false, "Enable the gesture gateway")
	fs.StringVar(&f.wsURL, "ws-url", "", "Forward events to this WebSocket hub")
	fs.StringVar(&f.metrics, "metrics", "", "Serve Prometheus metrics on this address")
	return f
}

// Apply copies explicitly set flags over c.
func (f *Flags) Apply(c *Config) {
	set := func(name string, apply func()) {
		if f.fs.Changed(name) {
			apply()
		}
	}
	set("provider", func() { c.LLM.Provider = f.provider })
	set("model", func() { c.LLM.Model = f.model })
	set("proxy", func() { c.LLM.Proxy = f.proxy })
	set("socket", func() { c.IPC.Socket = f.socket })
	set("no-tts", func() { c.TTS.Enabled = !f.noTTS })
	set("no-voice", func() { c.Voice.Enabled = !f.noVoice })
	set("listen", func() { c.Voice.ListenOnStart = f.listen })
	set("gesture", func() { c.Gesture.Enabled = f.gesture })
	set("ws-url", func() { c.Events.WSURL = f.wsURL })
	set("metrics", func() { c.Events.MetricsAddr = f.metrics })
}
