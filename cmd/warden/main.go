// Package main is the warden command line tool: validate manifests, build
// and inspect plugin packages, and manage the local install registry.
package main

import (
	"fmt"
	"os"
	"strings"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/dshills/warden/internal/config"
	"github.com/dshills/warden/internal/manifest"
	"github.com/dshills/warden/internal/pack"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "warden",
		Short:         "Plugin trust and sandbox governance",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")

	loadConfig := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if lvl, err := log.ParseLevel(cfg.Logging.Level); err == nil {
			log.SetLevel(lvl)
		}
		return cfg, nil
	}

	root.AddCommand(
		newValidateCmd(),
		newInspectCmd(),
		newPackCmd(),
		newInstallCmd(loadConfig),
		newUninstallCmd(loadConfig),
		newListCmd(loadConfig),
	)
	return root
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <manifest.json>",
		Short: "Validate a plugin manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.LoadManifest(args[0])
			if err != nil {
				return err
			}

			res := manifest.NewValidator().Validate(m)
			for _, w := range res.Warnings {
				fmt.Fprintf(cmd.OutOrStdout(), "warning: %s\n", w)
			}
			if !res.Valid {
				for _, e := range res.Errors {
					fmt.Fprintf(cmd.ErrOrStderr(), "error: %s\n", e)
				}
				return fmt.Errorf("manifest %s is invalid", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s is valid (risk: %s)\n", m.ID, m.Version, m.RiskLevel)
			return nil
		},
	}
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <package" + pack.Extension + ">",
		Short: "Show the contents and declared grants of a plugin package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg, err := pack.Open(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			m := pkg.Manifest
			fmt.Fprintf(out, "%s %s by %s\n", m.ID, m.Version, m.Author)
			fmt.Fprintf(out, "  name:   %s\n", m.Name)
			fmt.Fprintf(out, "  risk:   %s\n", m.RiskLevel)
			fmt.Fprintf(out, "  hash:   %s\n", pkg.Hash)
			fmt.Fprintf(out, "  signed: %v\n", pkg.Signed)
			for _, p := range m.Permissions {
				fmt.Fprintf(out, "  permission: %s\n", p)
			}
			for _, c := range m.Capabilities {
				fmt.Fprintf(out, "  capability: %s (%s)\n", c.ToolID, c.Name)
			}
			for _, f := range pkg.Files {
				fmt.Fprintf(out, "  file: %s\n", f)
			}
			return nil
		},
	}
}

func newPackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pack <source-dir> <output" + pack.Extension + ">",
		Short: "Build a plugin package from a source directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := args[1]
			if !strings.HasSuffix(out, pack.Extension) {
				out += pack.Extension
			}
			if err := pack.Create(args[0], out); err != nil {
				return err
			}
			pkg, err := pack.Open(out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "packed %s %s (%s)\n", pkg.Manifest.ID, pkg.Manifest.Version, pkg.Hash)
			return nil
		},
	}
}

func newInstallCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "install <package" + pack.Extension + ">",
		Short: "Install a plugin package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			pkg, err := pack.Open(args[0])
			if err != nil {
				return err
			}
			installer, err := pack.NewInstaller(cfg.Paths.DataDir)
			if err != nil {
				return err
			}
			res, err := installer.Install(pkg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case res.WasAlreadyInstalled:
				fmt.Fprintf(out, "%s %s is already installed\n", res.PluginID, res.Version)
			case res.Upgraded:
				fmt.Fprintf(out, "upgraded %s to %s\n", res.PluginID, res.Version)
			case res.Downgraded:
				fmt.Fprintf(out, "downgraded %s to %s\n", res.PluginID, res.Version)
			default:
				fmt.Fprintf(out, "installed %s %s\n", res.PluginID, res.Version)
			}
			if !res.Signed {
				fmt.Fprintln(out, "note: package is unsigned")
			}
			return nil
		},
	}
}

func newUninstallCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <plugin-id>",
		Short: "Remove an installed plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			installer, err := pack.NewInstaller(cfg.Paths.DataDir)
			if err != nil {
				return err
			}
			if err := installer.Uninstall(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uninstalled %s\n", args[0])
			return nil
		},
	}
}

func newListCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			installer, err := pack.NewInstaller(cfg.Paths.DataDir)
			if err != nil {
				return err
			}

			records := installer.Installed()
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no plugins installed")
				return nil
			}
			for _, rec := range records {
				signed := ""
				if rec.Signed {
					signed = " [signed]"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s%s\n", rec.PluginID, rec.Version, signed)
			}
			return nil
		},
	}
}
