package utils

import (
	"time"

	"github.com/spf13/viper"
)

// Set the viper defaults for a mediacore client on v.
// For use in cmd/config, as well as tests loading configs.
func SetViperDefaults(v *viper.Viper) {
	v.SetDefault("loglevel", "info")
	v.SetDefault("logfile", "")
	v.SetDefault("frameduration", 20*time.Millisecond)
	v.SetDefault("pipelinetimeout", 5*time.Second)
	v.SetDefault("preferencesfile", "")
	v.SetDefault("autoselectusb", true)
	v.SetDefault("metricsaddress", ":9466")
	v.SetDefault("capturefile", "")
	v.SetDefault("codecs", []string{"CodecOpus48000Mono", "CodecOpus48000Stereo"})
}
