package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/datashield/vault/internal/cli/output"
	"github.com/datashield/vault/internal/cli/prompt"
	"github.com/datashield/vault/pkg/catalog"
	"github.com/datashield/vault/pkg/config"
	"github.com/datashield/vault/pkg/syncer"
)

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "Manage collections (list, rotate-key)",
	Long: `Inspect and manage collections in the catalog.

These commands open the catalog directly, so run them on the host where
vault stores its database.`,
}

var collectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all collections",
	RunE:  runCollectionsList,
}

var rotateKeyCmd = &cobra.Command{
	Use:   "rotate-key <collection>",
	Short: "Rotate the access key of a collection",
	Long: `Rotate the access key of a collection.

A new random key is generated, stored hashed in the catalog, and written
to the collection's key file so clients reading it from disk stay in sync.
The old key stops working immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: runRotateKey,
}

var deactivateCmd = &cobra.Command{
	Use:   "deactivate <collection>",
	Short: "Deactivate a collection",
	Long: `Deactivate a collection.

The collection stops accepting API requests. Catalog rows and stored
objects are retained.`,
	Args: cobra.ExactArgs(1),
	RunE: runDeactivate,
}

var (
	rotateKeyYes  bool
	deactivateYes bool
)

func init() {
	rotateKeyCmd.Flags().BoolVarP(&rotateKeyYes, "yes", "y", false, "Skip the confirmation prompt")
	deactivateCmd.Flags().BoolVarP(&deactivateYes, "yes", "y", false, "Skip the confirmation prompt")

	collectionsCmd.AddCommand(collectionsListCmd)
	collectionsCmd.AddCommand(rotateKeyCmd)
	collectionsCmd.AddCommand(deactivateCmd)
}

// openCatalog loads the configuration and opens the catalog for CLI use.
func openCatalog() (*config.Config, *catalog.Catalog, error) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, nil, err
	}
	cat, err := catalog.New(&cfg.Catalog)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	return cfg, cat, nil
}

// collectionRow is one line of the collections table.
type collectionRow struct {
	name    string
	active  bool
	objects int64
	created string
}

// collectionList renders collections as a table.
type collectionList []collectionRow

// Headers implements output.TableRenderer.
func (cl collectionList) Headers() []string {
	return []string{"NAME", "STATUS", "OBJECTS", "CREATED"}
}

// Rows implements output.TableRenderer.
func (cl collectionList) Rows() [][]string {
	rows := make([][]string, 0, len(cl))
	for _, c := range cl {
		status := "active"
		if !c.active {
			status = "inactive"
		}
		rows = append(rows, []string{c.name, status, strconv.FormatInt(c.objects, 10), c.created})
	}
	return rows
}

func runCollectionsList(cmd *cobra.Command, args []string) error {
	_, cat, err := openCatalog()
	if err != nil {
		return err
	}
	defer func() { _ = cat.Close() }()

	ctx := context.Background()
	cols, err := cat.ListCollections(ctx, false)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	if len(cols) == 0 {
		fmt.Println("No collections found.")
		return nil
	}

	list := make(collectionList, 0, len(cols))
	for _, col := range cols {
		count, err := cat.CountObjects(ctx, col.Name)
		if err != nil {
			return err
		}
		list = append(list, collectionRow{
			name:    col.Name,
			active:  col.IsActive,
			objects: count,
			created: col.CreatedAt.Format("2006-01-02 15:04"),
		})
	}

	return output.PrintTable(os.Stdout, list)
}

func runRotateKey(cmd *cobra.Command, args []string) error {
	name := args[0]

	cfg, cat, err := openCatalog()
	if err != nil {
		return err
	}
	defer func() { _ = cat.Close() }()

	if !rotateKeyYes {
		ok, err := prompt.Confirm(fmt.Sprintf("Rotate the key for collection %q? Clients using the old key will be locked out", name), false)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	ctx := context.Background()
	secret, err := cat.RotateKey(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to rotate key: %w", err)
	}

	// Keep the on-disk key file in step with the catalog so the watcher
	// does not push the stale secret back.
	keyPath := filepath.Join(cfg.Syncer.Root, name, syncer.KeyFileName)
	if _, statErr := os.Stat(filepath.Dir(keyPath)); statErr == nil {
		if err := os.WriteFile(keyPath, []byte(secret+"\n"), 0600); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to update key file %s: %v\n", keyPath, err)
		}
	}

	fmt.Printf("New key for collection %q:\n\n  %s\n\n", name, secret)
	fmt.Println("Store it now; it is not shown again.")
	return nil
}

func runDeactivate(cmd *cobra.Command, args []string) error {
	name := args[0]

	_, cat, err := openCatalog()
	if err != nil {
		return err
	}
	defer func() { _ = cat.Close() }()

	if !deactivateYes {
		ok, err := prompt.Confirm(fmt.Sprintf("Deactivate collection %q? API access stops immediately", name), false)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := cat.Deactivate(context.Background(), name); err != nil {
		return fmt.Errorf("failed to deactivate collection: %w", err)
	}

	fmt.Printf("Collection %q deactivated.\n", name)
	return nil
}
