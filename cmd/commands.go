package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/yannick-cn/dbc-view/can"
	"github.com/yannick-cn/dbc-view/dbc"
	"github.com/yannick-cn/dbc-view/report"
	"github.com/yannick-cn/dbc-view/server"
	"github.com/yannick-cn/dbc-view/whitelist"
)

func newValidateCmd(a *app) *cobra.Command {
	var asJSON, publish bool
	cmd := &cobra.Command{
		Use:   "validate [file.dbc]",
		Short: "Check value ranges and bit layout, exit 1 on any error",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := argOr(args, 0, a.cfg.DBCPath)
			db, warnings, err := dbc.ParseFile(path)
			if err != nil {
				return err
			}

			r := report.Validate(path, db, warnings)
			if asJSON {
				buf, err := r.Marshal()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(buf))
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), r.Summary())
			}

			if publish {
				if err = publishReport(cmdContext(cmd), a, r); err != nil {
					return err
				}
			}

			if !r.OK {
				return errValidationFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	cmd.Flags().BoolVar(&publish, "publish", false, "Publish the report to MQTT.Report.Topic")
	return cmd
}

func publishReport(ctx context.Context, a *app, r *report.Report) error {
	p, err := report.NewPublisher(ctx, &a.cfg.MQTT)
	if err != nil {
		return err
	}
	defer p.Close()
	return p.Publish(ctx, r)
}

func newFormatCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "format [file.dbc]",
		Short: "Rewrite a DBC file in canonical form",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := dbc.ParseFile(argOr(args, 0, a.cfg.DBCPath))
			if err != nil {
				return err
			}
			return writeDBC(cmd, a, db, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, default DBC.OutputPath or stdout")
	return cmd
}

func writeDBC(cmd *cobra.Command, a *app, db *dbc.Database, output string) error {
	if output == "" {
		output = a.cfg.OutputPath
	}
	if output == "" {
		return dbc.Write(cmd.OutOrStdout(), db)
	}
	if err := dbc.WriteFile(output, db); err != nil {
		return err
	}
	log.Infof("Write %s success", output)
	return nil
}

func newExcelExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "excel-export [file.dbc] [file.xlsx]",
		Short: "Export a DBC file to the spreadsheet layout",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := dbc.ParseFile(argOr(args, 0, a.cfg.DBCPath))
			if err != nil {
				return err
			}
			xlsx := argOr(args, 1, a.cfg.DBCExcel)
			if err = dbc.ExportExcel(xlsx, db); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d message(s) to %s\n", len(db.Messages), xlsx)
			return nil
		},
	}
}

func newExcelImportCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "excel-import [file.xlsx]",
		Short: "Convert a spreadsheet to DBC",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := dbc.ImportExcel(argOr(args, 0, a.cfg.DBCExcel))
			if err != nil {
				return err
			}
			db := dbc.NewDatabase()
			db.LoadFromImport(result)
			return writeDBC(cmd, a, db, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, default DBC.OutputPath or stdout")
	return cmd
}

func newDecodeCmd(a *app) *cobra.Command {
	var dbcPath string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "decode <id> <hex payload>",
		Short: "Decode one frame payload against a DBC file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 0, 32)
			if err != nil {
				return errors.Wrapf(err, "invalid id %s", args[0])
			}
			payload, err := hex.DecodeString(strings.ReplaceAll(args[1], " ", ""))
			if err != nil {
				return errors.Wrapf(err, "invalid payload %s", args[1])
			}

			if dbcPath == "" {
				dbcPath = a.cfg.DBCPath
			}
			db, _, err := dbc.ParseFile(dbcPath)
			if err != nil {
				return err
			}

			frame, err := can.Decode(db, uint32(id), payload)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				buf, err := jsoniter.Marshal(frame)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(buf))
				return nil
			}

			fmt.Fprintf(out, "%s (%s)\n", frame.Name, db.Message(uint32(id)).FormattedID())
			for _, s := range frame.Signals {
				line := fmt.Sprintf("  %s = %s", s.Name, strconv.FormatFloat(s.Physical, 'g', -1, 64))
				if s.Unit != "" {
					line += " " + s.Unit
				}
				if s.Description != "" {
					line += " (" + s.Description + ")"
				}
				fmt.Fprintf(out, "%s raw=%d\n", line, s.Raw)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbcPath, "dbc", "", "DBC file, default DBC.DBCPath")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the frame as JSON")
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [file.dbc...]",
		Short: "Run the HTTP validation service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmdContext(cmd), a, args)
		},
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func serve(ctx context.Context, a *app, preload []string) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wl := whitelist.New(a.cfg.EnableWhiteList)
	if a.cfg.WhiteListFile != "" {
		if err := wl.LoadFromFile(a.cfg.WhiteListFile); err != nil {
			return err
		}
		wg.Add(1)
		go wl.SaveLoop(ctx, a.cfg.WhiteListFile, &wg)
	}

	var publisher server.ReportPublisher
	if a.cfg.Broker != "" {
		p, err := report.NewPublisher(ctx, &a.cfg.MQTT)
		if err != nil {
			log.Errorln(err)
		} else {
			defer p.Close()
			publisher = p
		}
	}

	srv := server.New(&a.cfg.HttpServer, wl, publisher)
	for _, path := range preload {
		db, warnings, err := dbc.ParseFile(path)
		if err != nil {
			return err
		}
		key := srv.Store(path, db, warnings)
		log.Infof("Load %s as %s", path, key)
	}

	httpServer := NewHttpServer(a.cfg.ServerAddr, srv.Handler())
	go httpServer.WaitExitSignal(ctx, time.Duration(a.cfg.ShutdownTimeout)*time.Second)

	log.Infof("Listen on %s", a.cfg.ServerAddr)
	err := httpServer.ListenAndServe()
	if err != nil {
		log.Errorln(err)
	}
	log.Debugln("main goroutine exited.")
	return err
}
