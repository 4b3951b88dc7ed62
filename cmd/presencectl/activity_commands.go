package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"presence-rpc/client"
	"presence-rpc/message"
)

type activityFlags struct {
	details    string
	state      string
	kind       string
	largeImage string
	largeText  string
	smallImage string
	smallText  string
	start      string
	end        string
}

func newSetCommand(ctx *commandContext) *cobra.Command {
	var flags activityFlags

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set the presence shown for this process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			activity, err := flags.activity(time.Now())
			if err != nil {
				return err
			}
			return ctx.withClient(cmd.Context(), nil, func(cli *client.Client) error {
				accepted, err := cli.SetActivity(cmd.Context(), activity)
				if err != nil {
					return fmt.Errorf("set activity: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), accepted)
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.details, "details", "", "First line of the presence")
	f.StringVar(&flags.state, "state", "", "Second line of the presence")
	f.StringVar(&flags.kind, "type", "listening", "Activity type: playing, listening, watching, competing")
	f.StringVar(&flags.largeImage, "large-image", "", "Large image asset key")
	f.StringVar(&flags.largeText, "large-text", "", "Large image hover text")
	f.StringVar(&flags.smallImage, "small-image", "", "Small image asset key")
	f.StringVar(&flags.smallText, "small-text", "", "Small image hover text")
	f.StringVar(&flags.start, "start", "", `Start time: "now", Unix seconds or RFC 3339`)
	f.StringVar(&flags.end, "end", "", `End time: Unix seconds, RFC 3339 or a duration from now ("25m")`)
	return cmd
}

func newClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the presence shown for this process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), nil, func(cli *client.Client) error {
				if err := cli.ClearActivity(cmd.Context()); err != nil {
					return fmt.Errorf("clear activity: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "presence cleared")
				return nil
			})
		},
	}
}

// activity builds and validates the activity described by the flags.
func (f activityFlags) activity(now time.Time) (*message.Activity, error) {
	kind, err := message.ParseActivityType(strings.ToLower(strings.TrimSpace(f.kind)))
	if err != nil {
		return nil, err
	}
	start, err := parseTime(f.start, now)
	if err != nil {
		return nil, fmt.Errorf("--start: %w", err)
	}
	end, err := parseTime(f.end, now)
	if err != nil {
		return nil, fmt.Errorf("--end: %w", err)
	}

	activity := &message.Activity{
		Details:    f.details,
		State:      f.state,
		Type:       kind,
		Timestamps: message.NewTimestamps(start, end),
	}
	assets := message.Assets{
		LargeImage: f.largeImage,
		LargeText:  f.largeText,
		SmallImage: f.smallImage,
		SmallText:  f.smallText,
	}
	if assets != (message.Assets{}) {
		activity.Assets = &assets
	}
	if err := activity.Validate(); err != nil {
		return nil, err
	}
	return activity, nil
}

func parseTime(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return time.Time{}, nil
	case value == "now":
		return now, nil
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		return now.Add(d), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized time %q", value)
	}
	return t, nil
}
