package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/AlecAivazis/survey/v2"
	"github.com/peterbourgon/ff/v3/ffcli"
)

func peersCommand() *ffcli.Command {
	return &ffcli.Command{
		Name:       "peers",
		ShortUsage: "meshpeer peers <subcommand>",
		ShortHelp:  "Manage configured peers",
		Subcommands: []*ffcli.Command{
			peersAddCommand(),
			peersListCommand(),
		},
	}
}

// peersAddCommand walks an operator through the §6.5 sign-in exchange
// interactively and prints a -peer flag value ready to paste into a
// `meshpeer serve` invocation.
func peersAddCommand() *ffcli.Command {
	return &ffcli.Command{
		Name:       "add",
		ShortUsage: "meshpeer peers add",
		ShortHelp:  "Sign in to a peer interactively and print its -peer flag value",
		Exec: func(ctx context.Context, args []string) error {
			answers := struct {
				FriendlyName string
				SignInURL    string
				Token        string
				KeyPath      string
				Connections  string
				IsRoot       bool
			}{}

			questions := []*survey.Question{
				{Name: "FriendlyName", Prompt: &survey.Input{Message: "Friendly name for this peer:"}, Validate: survey.Required},
				{Name: "SignInURL", Prompt: &survey.Input{Message: "Sign-in URL (PATCH endpoint):"}, Validate: survey.Required},
				{Name: "Token", Prompt: &survey.Password{Message: "Sign-in token:"}},
				{Name: "KeyPath", Prompt: &survey.Input{Message: "Path to this node's public key to present:"}, Validate: survey.Required},
				{Name: "Connections", Prompt: &survey.Input{Message: "Forward connections to open:", Default: "1"}},
			}
			if err := survey.Ask(questions, &answers); err != nil {
				return fmt.Errorf("cli: %w", err)
			}
			if err := survey.AskOne(&survey.Confirm{Message: "Mark as a root fallback peer?"}, &answers.IsRoot); err != nil {
				return fmt.Errorf("cli: %w", err)
			}

			myKey, err := readDER(answers.KeyPath)
			if err != nil {
				return err
			}

			hostPort, err := signIn(ctx, answers.SignInURL, answers.Token, answers.FriendlyName, "", "", "", 0, myKey)
			if err != nil {
				return err
			}

			conns, err := strconv.Atoi(answers.Connections)
			if err != nil || conns < 1 {
				conns = 1
			}

			fmt.Printf("-peer \"name=%s,addr=%s,conn=%d,root=%t\"\n", answers.FriendlyName, hostPort, conns, answers.IsRoot)
			fmt.Println("remember to also pass key=<path to their trusted public key>")
			return nil
		},
	}
}

func peersListCommand() *ffcli.Command {
	sf := newSharedFlags("peers list")
	return &ffcli.Command{
		Name:       "list",
		ShortUsage: "meshpeer peers list [flags]",
		ShortHelp:  "List configured peers",
		FlagSet:    sf.fs,
		Exec: func(ctx context.Context, args []string) error {
			cfg, err := sf.toConfig()
			if err != nil {
				return err
			}
			if len(cfg.Peers) == 0 {
				fmt.Println("no peers configured")
				return nil
			}
			for _, p := range cfg.Peers {
				fmt.Printf("%-20s addr=%-22s conn=%-3d root=%t\n", p.FriendlyName, p.Address, p.Connections, p.IsRoot)
			}
			return nil
		},
	}
}
