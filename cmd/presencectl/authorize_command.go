package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"presence-rpc/client"
	"presence-rpc/message"
)

func newAuthorizeCommand(ctx *commandContext) *cobra.Command {
	var scopes []string
	var authenticate string

	cmd := &cobra.Command{
		Use:   "authorize",
		Short: "Ask the user to authorize this application and print the OAuth2 code",
		Long: "Sends AUTHORIZE and waits until the user answers the prompt in the app. " +
			"There is no timeout; interrupt to give up.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := message.AuthorizeArgs{}
			for _, s := range scopes {
				req.Scopes = append(req.Scopes, message.Scope(s))
			}
			return ctx.withClient(cmd.Context(), nil, func(cli *client.Client) error {
				if authenticate != "" {
					resp, err := cli.Authenticate(cmd.Context(), authenticate)
					if err != nil {
						return fmt.Errorf("authenticate: %w", err)
					}
					return printJSON(cmd.OutOrStdout(), resp)
				}
				resp, err := cli.Authorize(cmd.Context(), req)
				if err != nil {
					return fmt.Errorf("authorize: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Code)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&scopes, "scope", []string{string(message.ScopeRPC), string(message.ScopeIdentify)}, "OAuth2 scopes to request")
	cmd.Flags().StringVar(&authenticate, "access-token", "", "Authenticate with an existing access token instead of prompting")
	return cmd
}
