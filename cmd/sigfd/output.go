//go:build linux

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/akalinux/sigfd"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

type encoder interface {
	Encode(v any) error
}

type textEncoder struct {
	w io.Writer
}

func (s *textEncoder) Encode(v any) error {
	_, err := fmt.Fprintln(s.w, v)
	return err
}

func newEncoder(w io.Writer, format string) (encoder, error) {
	switch format {
	case "text", "":
		return &textEncoder{w: w}, nil
	case "json":
		return json.NewEncoder(w), nil
	case "yaml":
		return yaml.NewEncoder(w), nil
	}
	return nil, fmt.Errorf("Unknown output format: %q, use text, json or yaml", format)
}

// Printable form of a record read by the watch command.
type record struct {
	Signal string `json:"signal" yaml:"signal"`
	Signo  uint32 `json:"signo" yaml:"signo"`
	Code   int32  `json:"code" yaml:"code"`
	Pid    uint32 `json:"pid" yaml:"pid"`
	Uid    uint32 `json:"uid" yaml:"uid"`
	Status int32  `json:"status" yaml:"status"`
	Int    int32  `json:"int,omitempty" yaml:"int,omitempty"`
	Ptr    uint64 `json:"ptr,omitempty" yaml:"ptr,omitempty"`
	Addr   uint64 `json:"addr,omitempty" yaml:"addr,omitempty"`
}

func newRecord(info *sigfd.Siginfo) *record {
	return &record{
		Signal: unix.SignalName(info.Signal()),
		Signo:  info.Signo,
		Code:   info.Code,
		Pid:    info.Pid,
		Uid:    info.Uid,
		Status: info.Status,
		Int:    info.Int,
		Ptr:    info.Ptr,
		Addr:   info.Addr,
	}
}

func (s *record) String() string {
	return fmt.Sprintf("%s signo=%d code=%d pid=%d uid=%d status=%d", s.Signal, s.Signo, s.Code, s.Pid, s.Uid, s.Status)
}
