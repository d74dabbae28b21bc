package main

import (
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
)

// Config is livedbctl's top-level configuration, matching the teacher's
// flag-group convention of one nested struct per concern.
var Config = new(struct {
	Log struct {
		Level string `long:"level" default:"info" description:"Logging level (debug, info, warn, error)"`
	} `group:"Logging" namespace:"log"`
})

type cmdDemo struct {
	Collection cmdDemoCollection `command:"collection" description:"Run a scripted sync + optimistic mutation demo over one collection"`
	Query      cmdDemoQuery      `command:"query" description:"Run a scripted live-query demo over a joined/windowed query"`
}

func initLog() *logrus.Entry {
	var lvl, err = logrus.ParseLevel(Config.Log.Level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	return logrus.NewEntry(logrus.StandardLogger())
}

func main() {
	var parser = flags.NewParser(Config, flags.Default)
	_, _ = parser.AddCommand("demo", "Run a scripted in-memory demo", `
Runs a scripted demo against livedb's in-memory reference components --
no external sync source or persistence is involved, so the commands are
useful both for manual inspection and as executable documentation of the
engine's behavior.
`, &cmdDemo{})

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
