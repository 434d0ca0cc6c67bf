package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mpataki/clerk/internal/result"
	"github.com/mpataki/clerk/internal/storage"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List generated contracts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			limit, _ := cmd.Flags().GetInt("limit")
			contracts, err := e.store.ListContracts(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if len(contracts) == 0 {
				fmt.Println("No contracts found.")
				return nil
			}

			for _, c := range contracts {
				fmt.Printf("%s  %-10s %-18s %s\n",
					c.ID[:8], storage.FormatTimeAgo(c.CreatedAt),
					c.Result.ContractType, truncate(c.Result.Title, 40))
			}
			return nil
		},
	}

	cmd.Flags().IntP("limit", "n", 20, "Number of contracts to list")
	return cmd
}

func newShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a generated contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			c, err := e.store.GetContract(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get contract: %w", err)
			}

			p := result.New(&c.Result)
			if md, _ := cmd.Flags().GetBool("markdown"); md {
				fmt.Println(p.Markdown())
				return nil
			}

			fmt.Printf("Contract %s: %s\n", c.ID, p.Title())
			fmt.Printf("Type: %s\n", c.Result.ContractType)
			fmt.Printf("Generated: %s\n", c.Result.GeneratedAt.Local().Format("2006-01-02 15:04:05"))
			if len(c.Exports) > 0 {
				fmt.Println("\nExports:")
				for _, x := range c.Exports {
					fmt.Printf("  [%s] %s (%s)\n", x.Format, x.Path, storage.FormatTimeAgo(x.ExportedAt))
				}
			}
			fmt.Println()
			fmt.Println(p.Text())
			return nil
		},
	}

	cmd.Flags().Bool("markdown", false, "Print the markdown source only")
	return cmd
}

func newExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a generated contract to files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formats, err := exportFlag(cmd)
			if err != nil {
				return err
			}
			if len(formats) == 0 {
				formats, _ = result.ParseFormats("md,html,pdf")
			}

			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := cmd.Context()
			c, err := e.store.GetContract(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to get contract: %w", err)
			}

			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = e.cfg.ExportDir
			}

			paths, err := result.ExportContract(ctx, dir, c, e.store, formats...)
			printPaths(paths)
			return err
		},
	}

	cmd.Flags().String("export", "", "Formats to export (md,html,pdf); all when empty")
	cmd.Flags().String("dir", "", "Base export directory (default from config)")
	return cmd
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a contract from the history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := cmd.Context()
			c, err := e.store.GetContract(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to get contract: %w", err)
			}
			if err := e.store.DeleteContract(ctx, c.ID); err != nil {
				return fmt.Errorf("failed to delete contract: %w", err)
			}

			fmt.Printf("Deleted contract %s\n", c.ID[:8])
			return nil
		},
	}
}
