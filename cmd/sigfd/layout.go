//go:build linux

package main

import (
	"fmt"
	"reflect"
	"text/tabwriter"

	"github.com/akalinux/sigfd"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type fieldLayout struct {
	Name   string  `json:"name" yaml:"name"`
	Offset uintptr `json:"offset" yaml:"offset"`
	Size   uintptr `json:"size" yaml:"size"`
}

type recordLayout struct {
	Fields  []fieldLayout `json:"fields" yaml:"fields"`
	Mapped  uintptr       `json:"mapped" yaml:"mapped"`
	Padding int           `json:"padding" yaml:"padding"`
	Size    int           `json:"size" yaml:"size"`
}

func newLayoutCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "layout",
		Short: "Print the signalfd record layout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l := siginfoLayout()
			format := v.GetString(KeyOutput)
			if format != "text" && format != "" {
				enc, err := newEncoder(cmd.OutOrStdout(), format)
				if err != nil {
					return err
				}
				return enc.Encode(l)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(tw, "FIELD\tOFFSET\tSIZE")
			for _, f := range l.Fields {
				fmt.Fprintf(tw, "%s\t%d\t%d\n", f.Name, f.Offset, f.Size)
			}
			fmt.Fprintf(tw, "padding\t%d\t%d\n", l.Mapped, l.Padding)
			fmt.Fprintf(tw, "total\t\t%d\n", l.Size)
			return tw.Flush()
		},
	}
}

func siginfoLayout() *recordLayout {
	t := reflect.TypeOf(sigfd.Siginfo{})
	l := &recordLayout{
		Fields:  make([]fieldLayout, 0, t.NumField()),
		Mapped:  t.Size(),
		Padding: sigfd.SIGINFO_PADDING,
		Size:    sigfd.SIGINFO_SIZE,
	}
	for i := range t.NumField() {
		f := t.Field(i)
		l.Fields = append(l.Fields, fieldLayout{Name: f.Name, Offset: f.Offset, Size: f.Type.Size()})
	}
	return l
}
