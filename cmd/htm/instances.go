package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glottech/hybridtm/internal/registry"
)

var (
	deleteLang    string
	deleteSegment int
)

var deleteCmd = &cobra.Command{
	Use:   "delete [fileId] [unitId]",
	Short: "Delete entries by provenance",
	Args:  cobra.ExactArgs(2),
	RunE:  runDelete,
}

var instancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "Manage registered instances",
}

var instancesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered instances",
	RunE:  runInstancesList,
}

var instancesAddCmd = &cobra.Command{
	Use:   "add [name] [store-path]",
	Short: "Register an instance",
	Args:  cobra.ExactArgs(2),
	RunE:  runInstancesAdd,
}

var instancesRemoveCmd = &cobra.Command{
	Use:   "remove [name]",
	Short: "Unregister an instance (store files stay on disk)",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstancesRemove,
}

func init() {
	deleteCmd.Flags().StringVar(&deleteLang, "lang", "", "language side to delete (required)")
	deleteCmd.Flags().IntVar(&deleteSegment, "segment", -1, "segment index (default: all segments of the unit)")
	deleteCmd.MarkFlagRequired("lang")
	rootCmd.AddCommand(deleteCmd)

	instancesCmd.AddCommand(instancesListCmd, instancesAddCmd, instancesRemoveCmd)
	rootCmd.AddCommand(instancesCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	en, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer en.Close()

	ok, err := en.DeleteLangEntry(ctx, args[0], args[1], deleteLang, deleteSegment)
	if err != nil {
		return err
	}
	if !ok {
		cmd.Println("Nothing matched.")
		return nil
	}
	cmd.Println("Deleted.")
	return nil
}

func openRegistry() (*registry.Registry, error) {
	path, err := registry.DefaultPath()
	if err != nil {
		return nil, err
	}
	return registry.Open(path)
}

func runInstancesList(cmd *cobra.Command, args []string) error {
	reg, err := openRegistry()
	if err != nil {
		return err
	}

	list := reg.List()
	if len(list) == 0 {
		cmd.Println("No instances registered.")
		return nil
	}
	for _, inst := range list {
		cmd.Printf("%s\t%s\t(%s)\n", inst.Name, inst.StorePath, inst.Embedder.Kind)
	}
	return nil
}

func runInstancesAdd(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	reg, err := openRegistry()
	if err != nil {
		return err
	}

	inst, err := reg.Add(args[0], args[1], cfg.Embedder)
	if err != nil {
		return err
	}
	cmd.Printf("registered %s (%s)\n", inst.Name, inst.ID)
	return nil
}

func runInstancesRemove(cmd *cobra.Command, args []string) error {
	reg, err := openRegistry()
	if err != nil {
		return err
	}

	ok, err := reg.Remove(args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("unknown instance %q", args[0])
	}
	cmd.Println("removed.")
	return nil
}
