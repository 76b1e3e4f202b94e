package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/timesync/internal/model"
	"github.com/Tiliavir/timesync/internal/projectmap"
	"github.com/Tiliavir/timesync/internal/storage"
)

var mappingDescription string

var mappingCmd = &cobra.Command{
	Use:   "mapping",
	Short: "Manage URL prefix to Redmine project mappings",
	Long: `Mappings pick the Redmine project for entries without an issue, based on
the URL the entry is created from. They are stored in ~/.tsync/mappings.json.`,
}

var mappingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all mappings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := mappingBase()
		if err != nil {
			return err
		}
		mf, err := storage.LoadMappings(base)
		if err != nil {
			return runErr(err)
		}
		writeMappings(os.Stdout, mf.Mappings)
		return nil
	},
}

var mappingAddCmd = &cobra.Command{
	Use:     "add <url-prefix> <project-id>",
	Short:   "Add or update a mapping",
	Example: `  tsync mapping add https://acme.atlassian.net/browse/AB 42 -d "Project AB"`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := strconv.Atoi(args[1])
		if err != nil || projectID <= 0 {
			return usageErr(fmt.Errorf("invalid project id %q", args[1]))
		}
		base, err := mappingBase()
		if err != nil {
			return err
		}
		m, err := storage.AddMapping(base, args[0], projectID, mappingDescription)
		if err != nil {
			return usageErr(err)
		}
		fmt.Printf("✓ %s → project %d (%s)\n", m.JiraURLPrefix, m.RedmineProjectID, m.ID)
		return nil
	},
}

var mappingRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a mapping by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := mappingBase()
		if err != nil {
			return err
		}
		if err := storage.RemoveMapping(base, args[0]); err != nil {
			if errors.Is(err, storage.ErrMappingNotFound) {
				return usageErr(err)
			}
			return runErr(err)
		}
		fmt.Printf("✓ Removed mapping %s\n", args[0])
		return nil
	},
}

var mappingResolveCmd = &cobra.Command{
	Use:   "resolve <url>",
	Short: "Show which project a URL maps to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := mappingBase()
		if err != nil {
			return err
		}
		mf, err := storage.LoadMappings(base)
		if err != nil {
			return runErr(err)
		}
		projectID, ok := projectmap.Match(mf.Mappings, args[0])
		if !ok {
			fmt.Println("No mapping matches.")
			return nil
		}
		fmt.Printf("project %d\n", projectID)
		return nil
	},
}

func init() {
	mappingAddCmd.Flags().StringVarP(&mappingDescription, "description", "d", "", "Free-text description")

	mappingCmd.AddCommand(mappingListCmd)
	mappingCmd.AddCommand(mappingAddCmd)
	mappingCmd.AddCommand(mappingRemoveCmd)
	mappingCmd.AddCommand(mappingResolveCmd)
}

func mappingBase() (string, error) {
	base, err := storage.BaseDir()
	if err != nil {
		return "", usageErr(err)
	}
	return base, nil
}

func writeMappings(w io.Writer, mappings []model.ProjectMapping) {
	if len(mappings) == 0 {
		fmt.Fprintln(w, "No mappings. Add one with: tsync mapping add <url-prefix> <project-id>")
		return
	}
	fmt.Fprintf(w, "%-36s  %-8s  %-40s  %s\n", "ID", "PROJECT", "URL PREFIX", "DESCRIPTION")
	for _, m := range mappings {
		fmt.Fprintf(w, "%-36s  %-8d  %-40s  %s\n", m.ID, m.RedmineProjectID, m.JiraURLPrefix, m.Description)
	}
}
