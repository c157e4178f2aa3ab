package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/yannick-cn/dbc-view/base"
)

const (
	ConfigPath = "./config.json"
	LogDir     = "./log"
)

var log = base.Logger

// errValidationFailed 校验有错误时命令以非0退出, 错误已打印
var errValidationFailed = errors.New("validation failed")

type app struct {
	configPath string
	logLevel   string
	cfg        *base.Config
	logFile    io.Closer
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errValidationFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "dbcview",
		Short:         "CAN DBC database toolkit: validate, format, convert and decode",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logFile != nil {
				a.logFile.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", ConfigPath, "Path to JSON or YAML config file")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override LOG.LogLevel (panic, fatal, error, warn, info, debug, trace)")

	rootCmd.AddCommand(
		newValidateCmd(a),
		newFormatCmd(a),
		newExcelExportCmd(a),
		newExcelImportCmd(a),
		newDecodeCmd(a),
		newServeCmd(a),
	)
	return rootCmd
}

func (a *app) setup() error {
	cfg, err := base.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	a.cfg = cfg
	base.GConfig = cfg

	a.logFile, err = initLog(&cfg.LOG)
	if err != nil {
		return err
	}
	log.Debugln("Init log success !!!")
	return nil
}

func initLog(cfg *base.LOG) (io.Closer, error) {
	if err := base.SetupLogger(cfg); err != nil {
		return nil, errors.Wrapf(err, "ParseLevel failed !!! %s", cfg.LogLevel)
	}
	if !cfg.LogToFile {
		return nil, nil
	}

	err := os.MkdirAll(LogDir, os.ModePerm)
	if err != nil {
		return nil, err
	}

	logName := filepath.Join(LogDir, filepath.Base(os.Args[0]))
	strTime := time.Now().Format(base.TimestampFormat)
	strTime = strings.Replace(strTime, ":", "_", -1)
	logName += "." + strTime + ".log"

	logFile, err := os.OpenFile(logName, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o666)
	if err != nil {
		return nil, err
	}

	log.SetOutput(logFile)
	log.Printf("Open %s success !\n", logName)
	return logFile, nil
}

// argOr returns args[i] or def when the argument is absent.
func argOr(args []string, i int, def string) string {
	if len(args) > i && args[i] != "" {
		return args[i]
	}
	return def
}
