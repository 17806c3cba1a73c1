package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vobby/vobby/internal/controlplane"
	"github.com/vobby/vobby/internal/cpclient"
)

func init() {
	rootCmd.AddCommand(
		newStatusCmd(),
		newTreeCmd(),
		newDocsCmd(),
		newIdsCmd(),
		newNodeCmd("mkdir", "Create a directory on the server", true),
		newNodeCmd("touch", "Create an empty file on the server", false),
		newRmCmd(),
		newExploreCmd(),
		newWatchCmd(),
	)
}

// newCPClient connects to the control plane of the bridge described by the
// same config the bridge itself reads.
func newCPClient(cmd *cobra.Command) (*cpclient.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	url, err := controlplane.URL(cfg.ControlPlane.Addr)
	if err != nil {
		return nil, err
	}
	return cpclient.New(url, cfg.ControlPlane.Token)
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of the running bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCPClient(cmd)
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderStatus(st))
			return nil
		},
	}
}

func newTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Print the mirrored directory tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCPClient(cmd)
			if err != nil {
				return err
			}
			text, err := c.TreeText(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), text)
			if !strings.HasSuffix(text, "\n") {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}
}

func newDocsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "docs",
		Aliases: []string{"documents"},
		Short:   "List the documents being synchronized",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCPClient(cmd)
			if err != nil {
				return err
			}
			docs, err := c.Documents(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderDocuments(docs.Documents))
			return nil
		},
	}
}

func newIdsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ids",
		Short: "List path bindings between the server and Vim",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCPClient(cmd)
			if err != nil {
				return err
			}
			ids, err := c.Identities(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, it := range ids.Identities {
				line := fmt.Sprintf("%-32s %s", it.Path, cyan.Render("node="+it.RemoteID))
				if it.Session != "" {
					line += " " + gray.Render("session="+it.Session)
				}
				if it.Handle != "" {
					line += " " + gray.Render("buffer="+it.Handle)
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}

func newNodeCmd(use, short string, dir bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " PATH",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCPClient(cmd)
			if err != nil {
				return err
			}
			if err := c.CreateNode(cmd.Context(), args[0], dir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", green.Render("requested"), args[0])
			return nil
		},
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm PATH",
		Short: "Remove a file or an empty directory on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCPClient(cmd)
			if err != nil {
				return err
			}
			if err := c.RemoveNode(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", green.Render("requested"), args[0])
			return nil
		},
	}
}

func newExploreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "explore [PATH]",
		Short: "Ask the server for a directory's children",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCPClient(cmd)
			if err != nil {
				return err
			}
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return c.Explore(cmd.Context(), path)
		},
	}
}
