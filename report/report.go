package report

import (
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/yannick-cn/dbc-view/base"
	"github.com/yannick-cn/dbc-view/dbc"
)

var log = base.Logger

// Report 一次DBC校验的结果
type Report struct {
	File         string   `json:"file"`
	OK           bool     `json:"ok"`
	Errors       []string `json:"errors"`
	Warnings     []string `json:"warnings,omitempty"` // 解析时跳过的行
	MessageCount int      `json:"messageCount"`
	SignalCount  int      `json:"signalCount"`
	GeneratedAt  string   `json:"generatedAt"`
}

// New builds the report of db. warnings are the parser warnings of the file.
func New(file string, db *dbc.Database, warnings []string, result dbc.ValidationResult) *Report {
	r := &Report{
		File:        file,
		OK:          result.OK,
		Errors:      result.Errors,
		Warnings:    warnings,
		GeneratedAt: time.Now().Format(base.TimestampFormat),
	}
	if r.Errors == nil {
		r.Errors = []string{}
	}
	if db != nil {
		r.MessageCount = len(db.Messages)
		r.SignalCount = db.SignalCount()
	}
	return r
}

// Validate runs the validator over db and wraps the result.
func Validate(file string, db *dbc.Database, warnings []string) *Report {
	return New(file, db, warnings, dbc.Validate(db))
}

func (r *Report) Marshal() ([]byte, error) {
	return jsoniter.Marshal(r)
}

// Summary is the console form of the report.
func (r *Report) Summary() string {
	if len(r.Errors) == 0 {
		return "Overlap validation: OK (no errors)."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Overlap validation: %d error(s)", len(r.Errors))
	for _, e := range r.Errors {
		sb.WriteString("\n")
		sb.WriteString(e)
	}
	return sb.String()
}
