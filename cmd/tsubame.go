package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tsubamedb/tsubame/config"
)

var (
	tsubameCmd = &cobra.Command{
		Use:               "tsubame",
		Short:             "A transaction log core",
		Long:              "Tsubame is the transaction-identifier lifecycle core of a database server.",
		PersistentPreRunE: tsubamePreRun,
		PersistentPostRun: tsubamePostRun,
	}

	logFile   = "tsubame.log"
	logLevel  = "info"
	logStderr = false
	logWriter io.WriteCloser

	configFile = "tsubame.hcl"
	noConfig   = false
	dataDir    = ""

	cfg = config.Default()
)

func init() {
	log.SetFormatter(&log.TextFormatter{
		DisableLevelTruncation: true,
	})

	fs := tsubameCmd.PersistentFlags()

	fs.StringVar(&logFile, "log-file", logFile, "`file` to use for logging")
	fs.StringVar(&logLevel, "log-level", logLevel,
		"log level: trace, debug, info, warn, error, fatal, or panic")
	fs.BoolVarP(&logStderr, "log-stderr", "s", logStderr, "log to standard error")

	fs.StringVar(&configFile, "config-file", configFile, "`file` to load config from")
	fs.BoolVar(&noConfig, "no-config", noConfig, "don't load config file")
	fs.StringVar(&dataDir, "data", dataDir, "`directory` containing the transaction logs")
}

func Execute() error {
	return tsubameCmd.Execute()
}

func tsubamePreRun(cmd *cobra.Command, args []string) error {
	if configFile != "" && !noConfig {
		c, err := config.Load(configFile)
		if err == nil {
			cfg = c
		} else if !os.IsNotExist(errors.Cause(err)) {
			return fmt.Errorf("tsubame: %s", err)
		}
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	if !logStderr && logFile != "" {
		var err error
		logWriter, err = os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			logWriter = nil
			return fmt.Errorf("tsubame: %s", err)
		}
		log.SetOutput(logWriter)
	}

	ll, err := log.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("tsubame: %s", err)
	}
	log.SetLevel(ll)

	log.WithField("pid", os.Getpid()).Info("tsubame starting")
	return nil
}

func tsubamePostRun(cmd *cobra.Command, args []string) {
	log.WithField("pid", os.Getpid()).Info("tsubame done")

	if logWriter != nil {
		logWriter.Close()
	}
}
