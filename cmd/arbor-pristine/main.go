// Package main provides arbor-pristine, a debug CLI over a pristine
// database: listing channels, walking a channel's applied-node log,
// applying a change file, and creating or regenerating tags.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/arbor-vcs/arbor/pkg/apply"
	"github.com/arbor-vcs/arbor/pkg/changestore"
	"github.com/arbor-vcs/arbor/pkg/codec"
	"github.com/arbor-vcs/arbor/pkg/config"
	"github.com/arbor-vcs/arbor/pkg/graph"
	"github.com/arbor-vcs/arbor/pkg/pristine"
	"github.com/arbor-vcs/arbor/pkg/registry"
	"github.com/arbor-vcs/arbor/pkg/tagengine"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "arbor-pristine",
		Short: "Inspect and drive a pristine database directly",
		Long: `arbor-pristine operates on a repository's pristine database and
change/tag store without a working copy: listing channels, walking a
channel's log, applying a change file by hash, and creating or
regenerating tags. It is a debug tool, not the end-user CLI.`,
	}
	rootCmd.PersistentFlags().String("data-dir", "", "pristine database root (defaults to $ARBOR_DATA_DIR)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("arbor-pristine v%s\n", version)
		},
	})

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a pristine database at --data-dir",
		RunE:  runInit,
	}
	rootCmd.AddCommand(initCmd)

	channelsCmd := &cobra.Command{
		Use:   "channels",
		Short: "List registered channels",
		RunE:  runChannels,
	}
	rootCmd.AddCommand(channelsCmd)

	logCmd := &cobra.Command{
		Use:   "log [channel]",
		Short: "Walk a channel's applied-node log",
		Args:  cobra.ExactArgs(1),
		RunE:  runLog,
	}
	rootCmd.AddCommand(logCmd)

	applyCmd := &cobra.Command{
		Use:   "apply [channel] [change-file]",
		Short: "Decode a change file, save it, and apply it to a channel",
		Args:  cobra.ExactArgs(2),
		RunE:  runApply,
	}
	rootCmd.AddCommand(applyCmd)

	tagCmd := &cobra.Command{
		Use:   "tag",
		Short: "Tag operations",
	}
	tagCreateCmd := &cobra.Command{
		Use:   "create [channel]",
		Short: "Create a tag over a channel's current tip",
		Args:  cobra.ExactArgs(1),
		RunE:  runTagCreate,
	}
	tagCreateCmd.Flags().Bool("lightweight", false, "create a lightweight tag instead of a consolidating one")
	tagCreateCmd.Flags().String("message", "", "tag header message")
	tagCmd.AddCommand(tagCreateCmd)

	tagRegenCmd := &cobra.Command{
		Use:   "regenerate [channel] [merkle-base32]",
		Short: "Rebuild a tag artifact from a channel's own history",
		Args:  cobra.ExactArgs(2),
		RunE:  runTagRegenerate,
	}
	tagRegenCmd.Flags().Bool("lightweight", false, "regenerate as a lightweight tag instead of a consolidating one")
	tagRegenCmd.Flags().String("message", "", "tag header message")
	tagCmd.AddCommand(tagRegenCmd)
	rootCmd.AddCommand(tagCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStores loads config.LoadFromEnv, lets --data-dir override its
// ARBOR_DATA_DIR, and opens a pristine.Store and a changestore.Store rooted
// under that directory with the configured sync-writes, low-memory and
// compression settings.
func openStores(cmd *cobra.Command) (*pristine.Store, *changestore.Store, error) {
	cfg := config.LoadFromEnv()
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}

	store, err := pristine.Open(pristine.Options{
		DataDir:    filepath.Join(cfg.DataDir, "pristine"),
		SyncWrites: cfg.SyncWrites,
		LowMemory:  cfg.LowMemory,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening pristine database: %w", err)
	}
	cs := changestore.NewWithCompression(filepath.Join(cfg.DataDir, "changes"), cfg.CompressionLevel)
	return store, cs, nil
}

func runInit(cmd *cobra.Command, args []string) error {
	store, _, err := openStores(cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	fmt.Println("pristine database ready")
	return nil
}

func runChannels(cmd *cobra.Command, args []string) error {
	store, _, err := openStores(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.View(func(txn *pristine.ReadTxn) error {
		names, err := txn.ListChannels()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("no channels")
			return nil
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	})
}

func runLog(cmd *cobra.Command, args []string) error {
	store, _, err := openStores(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.View(func(txn *pristine.ReadTxn) error {
		ch, err := txn.LoadChannel(args[0])
		if err != nil {
			return err
		}
		entries, err := txn.IterLog(ch)
		if err != nil {
			return err
		}
		for _, e := range entries {
			hash, ok, err := registry.GetExternal(txn, e.Node)
			if err != nil {
				return err
			}
			nodeType, _, err := registry.GetNodeType(txn, e.Node)
			if err != nil {
				return err
			}
			tagged, err := txn.IsTagged(ch, e.Pos)
			if err != nil {
				return err
			}
			hashStr := "(unregistered)"
			if ok {
				hashStr = hash.String()
			}
			marker := ""
			if tagged {
				marker = " [tagged]"
			}
			fmt.Printf("%d\t%s\t%s\t%s%s\n", e.Pos, nodeType, hashStr, e.Merkle, marker)
		}
		return nil
	})
}

func runApply(cmd *cobra.Command, args []string) error {
	channel, path := args[0], args[1]
	store, cs, err := openStores(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	change, err := codec.Decode(data)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	hash, err := cs.SaveChange(func() (*codec.Change, error) { return change, nil })
	if err != nil {
		return fmt.Errorf("saving change: %w", err)
	}

	return store.Update(func(txn *pristine.WriteTxn) error {
		ch, err := txn.OpenOrCreateChannel(channel)
		if err != nil {
			return err
		}
		pos, merkle, err := apply.ApplyNode(cs, txn, ch, hash, graph.NodeTypeChange)
		if err != nil {
			return err
		}
		fmt.Printf("applied %s at position %d, new state %s\n", hash, pos, merkle)
		return nil
	})
}

func runTagCreate(cmd *cobra.Command, args []string) error {
	channel := args[0]
	lightweight, _ := cmd.Flags().GetBool("lightweight")
	message, _ := cmd.Flags().GetString("message")
	kind := tagengine.Consolidating
	if lightweight {
		kind = tagengine.Lightweight
	}

	store, cs, err := openStores(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.Update(func(txn *pristine.WriteTxn) error {
		ch, err := txn.LoadChannel(channel)
		if err != nil {
			return err
		}
		pos, hash, err := tagengine.CreateTag(cs, txn, ch, codec.Header{Message: message}, kind)
		if err != nil {
			return err
		}
		fmt.Printf("created tag %s at position %d\n", hash, pos)
		return nil
	})
}

func runTagRegenerate(cmd *cobra.Command, args []string) error {
	channel, merkleStr := args[0], args[1]
	lightweight, _ := cmd.Flags().GetBool("lightweight")
	message, _ := cmd.Flags().GetString("message")
	kind := tagengine.Consolidating
	if lightweight {
		kind = tagengine.Lightweight
	}

	parsedHash, err := codec.ParseHash(merkleStr)
	if err != nil {
		return fmt.Errorf("parsing merkle: %w", err)
	}
	m := codec.MerkleOfHash(parsedHash)

	store, cs, err := openStores(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.View(func(txn *pristine.ReadTxn) error {
		ch, err := txn.LoadChannel(channel)
		if err != nil {
			return err
		}
		hash, err := tagengine.RegenerateTagFromChannel(cs, txn, ch, m, codec.Header{Message: message}, kind)
		if err != nil {
			return err
		}
		fmt.Printf("regenerated tag %s (apply it with a write transaction to register it)\n", hash)
		return nil
	})
}
