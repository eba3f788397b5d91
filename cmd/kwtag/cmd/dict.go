package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/corey/kwtag/dicts"
	"github.com/corey/kwtag/internal/app"
	"github.com/corey/kwtag/internal/domain/dictionary"
	"github.com/corey/kwtag/internal/domain/labels"
	"github.com/corey/kwtag/internal/ports"
)

var (
	dictName       string
	dictFormat     string
	dictIgnoreCase bool
)

var dictCmd = &cobra.Command{
	Use:   "dict",
	Short: "Manage stored dictionaries",
}

var dictImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Validate a dictionary file and store it in the project database",
	Args:  cobra.ExactArgs(1),
	RunE:  runDictImport,
}

var dictListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored and built-in dictionaries",
	Args:  cobra.NoArgs,
	RunE:  runDictList,
}

var dictShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print a dictionary's source",
	Args:  cobra.ExactArgs(1),
	RunE:  runDictShow,
}

var dictRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Remove a stored dictionary",
	Args:  cobra.ExactArgs(1),
	RunE:  runDictRm,
}

func init() {
	dictImportCmd.Flags().StringVar(&dictName, "name", "", "Dictionary name (default: file name without extension)")
	dictImportCmd.Flags().StringVar(&dictFormat, "format", "", "Source format: text or yaml (default: by extension)")
	dictImportCmd.Flags().BoolVarP(&dictIgnoreCase, "ignore-case", "i", false, "Match this dictionary case-insensitively")

	dictCmd.AddCommand(dictImportCmd)
	dictCmd.AddCommand(dictListCmd)
	dictCmd.AddCommand(dictShowCmd)
	dictCmd.AddCommand(dictRmCmd)
}

func runDictImport(cmd *cobra.Command, args []string) error {
	path := args[0]
	source, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	name := dictName
	if name == "" {
		name = dictionary.NameOf(path)
	}
	format := dictFormat
	if format == "" {
		format = dictionary.FormatOf(path)
	}

	spec, err := dictionary.ParseSource(format, source)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	// Build once so keywords the automaton rejects fail the import.
	if _, err := dictionary.Build(labels.NewTable(), nil, spec); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	store, err := openStore(projectRoot())
	if err != nil {
		return err
	}
	defer store.Close()

	err = store.SaveDictionary(&ports.Dictionary{
		Name:            name,
		Format:          format,
		Source:          source,
		CaseInsensitive: dictIgnoreCase || spec.CaseInsensitive,
		UpdatedAt:       time.Now(),
	})
	if err != nil {
		return err
	}
	fmt.Printf("⚡ imported %s (%d keywords, %s)\n", name, len(spec.Entries), format)
	return nil
}

func runDictList(cmd *cobra.Command, args []string) error {
	root := projectRoot()
	stored := map[string]*ports.Dictionary{}
	if hasStore(root) {
		store, err := openStore(root)
		if err != nil {
			return err
		}
		list, err := store.ListDictionaries()
		store.Close()
		if err != nil {
			return err
		}
		for _, d := range list {
			stored[d.Name] = d
		}
	}

	names := make([]string, 0, len(stored))
	for name := range stored {
		names = append(names, name)
	}
	sort.Strings(names)

	useColor := resolveColor("auto")
	for _, name := range names {
		d := stored[name]
		keywords := "?"
		if spec, err := dictionary.ParseSource(d.Format, d.Source); err == nil {
			keywords = fmt.Sprint(len(spec.Entries))
		}
		fmt.Printf("  %-20s %6s keywords  %-4s  %s\n",
			paint(useColor, colorCyan, name), keywords, d.Format, d.UpdatedAt.Format(time.DateTime))
	}
	for _, name := range app.BuiltinNames() {
		note := "built-in"
		if _, ok := stored[name]; ok {
			note = "built-in, shadowed"
		}
		keywords := "?"
		if spec, err := app.Builtin(name); err == nil {
			keywords = fmt.Sprint(len(spec.Entries))
		}
		fmt.Printf("  %-20s %6s keywords  yaml  %s\n",
			paint(useColor, colorCyan, name), keywords, paint(useColor, colorGray, note))
	}
	return nil
}

func runDictShow(cmd *cobra.Command, args []string) error {
	name := args[0]
	root := projectRoot()
	if hasStore(root) {
		store, err := openStore(root)
		if err != nil {
			return err
		}
		d, err := store.LoadDictionary(name)
		store.Close()
		if err != nil {
			return err
		}
		if d != nil {
			_, err = os.Stdout.Write(d.Source)
			return err
		}
	}

	data, err := fs.ReadFile(dicts.FS, dicts.Dir+"/"+name+".yaml")
	if err != nil {
		return fmt.Errorf("%w %q", app.ErrUnknownDictionary, name)
	}
	_, err = os.Stdout.Write(data)
	return err
}

func runDictRm(cmd *cobra.Command, args []string) error {
	store, err := openStore(projectRoot())
	if err != nil {
		return err
	}
	defer store.Close()

	d, err := store.LoadDictionary(args[0])
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("%w %q", app.ErrUnknownDictionary, args[0])
	}
	if err := store.DeleteDictionary(args[0]); err != nil {
		return err
	}
	fmt.Printf("⚡ removed %s\n", args[0])
	return nil
}
