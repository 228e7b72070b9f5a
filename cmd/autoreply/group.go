package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/foxzi/autoreply/internal/metrics"
	"github.com/foxzi/autoreply/internal/template"
)

var (
	groupSearch   string
	groupJSON     bool
	groupCategory string

	editLocale     string
	previewLocale  string
	validateLocale string

	editName      string
	editStartAt   string
	editEndAt     string
	editScope     string
	editSubject   string
	editOpening   string
	editBody      string
	editContact   string
	editSignature string
)

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Template group management commands",
}

var groupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List template groups",
	RunE:  runGroupList,
}

var groupShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show group details",
	Args:  cobra.ExactArgs(1),
	RunE:  runGroupShow,
}

var groupNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a group with default content",
	RunE:  runGroupNew,
}

var groupDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a group",
	Args:  cobra.ExactArgs(1),
	RunE:  runGroupDelete,
}

var groupEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit one locale version of a group",
	Long: `Edit one locale version of a group. Only the flags given are changed.

Examples:
  autoreply group edit T_CUSTOM_1700000000000 --locale en-US --subject "Out of office"
  autoreply group edit T_CUSTOM_1700000000000 --start 2024-01-01T00:00 --end 2024-01-07T00:00`,
	Args: cobra.ExactArgs(1),
	RunE: runGroupEdit,
}

var groupPreviewCmd = &cobra.Command{
	Use:   "preview <id>",
	Short: "Preview the reply a version produces",
	Args:  cobra.ExactArgs(1),
	RunE:  runGroupPreview,
}

var groupValidateCmd = &cobra.Command{
	Use:   "validate [id]",
	Short: "Validate versions against webmail constraints",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runGroupValidate,
}

func init() {
	groupListCmd.Flags().StringVar(&groupSearch, "search", "", "Filter by id, category, rule or keywords")

	groupShowCmd.Flags().BoolVar(&groupJSON, "json", false, "Print the group as JSON")

	groupNewCmd.Flags().StringVar(&groupCategory, "category", "", "Category name (default: dated placeholder)")

	groupEditCmd.Flags().StringVar(&editLocale, "locale", string(template.LocaleZhCN), "Locale to edit (zh-CN, en-US)")
	groupEditCmd.Flags().StringVar(&groupCategory, "category", "", "Group category")
	groupEditCmd.Flags().StringVar(&editName, "name", "", "Version name")
	groupEditCmd.Flags().StringVar(&editStartAt, "start", "", "Window start")
	groupEditCmd.Flags().StringVar(&editEndAt, "end", "", "Window end")
	groupEditCmd.Flags().StringVar(&editScope, "scope", "", "Reply scope: all, internal, external")
	groupEditCmd.Flags().StringVar(&editSubject, "subject", "", "Subject")
	groupEditCmd.Flags().StringVar(&editOpening, "opening", "", "Opening line")
	groupEditCmd.Flags().StringVar(&editBody, "body", "", "Body")
	groupEditCmd.Flags().StringVar(&editContact, "contact", "", "Fallback contact")
	groupEditCmd.Flags().StringVar(&editSignature, "signature", "", "Signature")

	groupPreviewCmd.Flags().StringVar(&previewLocale, "locale", string(template.LocaleZhCN), "Locale to preview")

	groupValidateCmd.Flags().StringVar(&validateLocale, "locale", "", "Only validate this locale")

	groupCmd.AddCommand(
		groupListCmd,
		groupShowCmd,
		groupNewCmd,
		groupDeleteCmd,
		groupEditCmd,
		groupPreviewCmd,
		groupValidateCmd,
	)
	rootCmd.AddCommand(groupCmd)
}

func runGroupList(cmd *cobra.Command, args []string) error {
	sess, err := openSession(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer sess.Close()
	store := sess.store

	groups, err := store.List(cmd.Context(), template.ListFilter{Search: groupSearch})
	if err != nil {
		return fmt.Errorf("failed to list groups: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(groups) == 0 {
		fmt.Fprintln(out, "No groups found")
		return nil
	}

	writeGroupTable(out, groups)
	fmt.Fprintf(out, "\nTotal: %d groups\n", len(groups))
	return nil
}

func writeGroupTable(out io.Writer, groups []template.Group) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCATEGORY\tRULE\tSUBJECT\tUPDATED")
	for _, g := range groups {
		subject := ""
		if v, ok := g.Version(template.LocaleZhCN); ok {
			subject = v.Subject
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			g.GroupID,
			shorten(g.Category, 24),
			shorten(g.RuleLabel(), 24),
			shorten(subject, 40),
			g.UpdatedAt,
		)
	}
	w.Flush()
}

func shorten(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	return string([]rune(s)[:width-3]) + "..."
}

func runGroupShow(cmd *cobra.Command, args []string) error {
	sess, err := openSession(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer sess.Close()
	store := sess.store

	group, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get group: %w", err)
	}
	if group == nil {
		return fmt.Errorf("group not found: %s", args[0])
	}

	out := cmd.OutOrStdout()
	if groupJSON {
		enc := json.NewEncoder(out)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(group)
	}

	fmt.Fprintf(out, "ID:           %s\n", group.GroupID)
	fmt.Fprintf(out, "Category:     %s\n", group.Category)
	fmt.Fprintf(out, "Direction:    %s\n", group.Direction)
	fmt.Fprintf(out, "Rule:         %s\n", group.RuleLabel())
	if group.Priority != nil {
		fmt.Fprintf(out, "Priority:     %d\n", *group.Priority)
	}
	if len(group.Placeholders) > 0 {
		fmt.Fprintf(out, "Placeholders: %s\n", strings.Join(group.Placeholders, ", "))
	}
	fmt.Fprintf(out, "Updated:      %s\n", group.UpdatedAt)

	for _, locale := range template.Locales {
		v, ok := group.Version(locale)
		if !ok {
			continue
		}
		fmt.Fprintf(out, "\n[%s] %s\n", locale, v.Name)
		fmt.Fprintf(out, "  Scope:   %s\n", v.Scope)
		fmt.Fprintf(out, "  Window:  %s ~ %s\n", orDash(v.StartAt), orDash(v.EndAt))
		fmt.Fprintf(out, "  Subject: %s\n", v.Subject)
		fmt.Fprintf(out, "  Updated: %s\n", v.UpdatedAt)
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func runGroupNew(cmd *cobra.Command, args []string) error {
	sess, err := openSession(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer sess.Close()
	store := sess.store

	n := store.Normalizer()
	group := n.NewGroup()
	if groupCategory != "" {
		group.Category = groupCategory
		for _, locale := range template.Locales {
			group.Versions[locale] = n.DefaultVersion(locale, groupCategory)
		}
	}

	if err := store.Create(cmd.Context(), group); err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}
	metrics.IncGroupEdit("create")

	fmt.Fprintf(cmd.OutOrStdout(), "Group created: %s (%s)\n", group.GroupID, group.Category)
	return nil
}

func runGroupDelete(cmd *cobra.Command, args []string) error {
	sess, err := openSession(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer sess.Close()
	store := sess.store

	if err := store.Delete(cmd.Context(), args[0]); err != nil {
		if errors.Is(err, template.ErrLastGroup) {
			return fmt.Errorf("cannot delete %s: at least one group must remain", args[0])
		}
		return fmt.Errorf("failed to delete group: %w", err)
	}
	metrics.IncGroupEdit("delete")

	fmt.Fprintf(cmd.OutOrStdout(), "Group deleted: %s\n", args[0])
	return nil
}

// collectEdit builds an edit from the flags the user actually set
func collectEdit(cmd *cobra.Command) (template.Edit, error) {
	var edit template.Edit
	flags := cmd.Flags()

	set := func(name string, value string, dst **string) {
		if flags.Changed(name) {
			v := value
			*dst = &v
		}
	}
	set("category", groupCategory, &edit.Category)
	set("name", editName, &edit.Name)
	set("start", editStartAt, &edit.StartAt)
	set("end", editEndAt, &edit.EndAt)
	set("subject", editSubject, &edit.Subject)
	set("opening", editOpening, &edit.Opening)
	set("body", editBody, &edit.Body)
	set("contact", editContact, &edit.FallbackContact)
	set("signature", editSignature, &edit.Signature)

	if flags.Changed("scope") {
		scope := template.Scope(editScope)
		switch scope {
		case template.ScopeAll, template.ScopeInternal, template.ScopeExternal:
		default:
			return edit, fmt.Errorf("invalid scope %q (use all, internal or external)", editScope)
		}
		edit.Scope = &scope
	}

	return edit, nil
}

func runGroupEdit(cmd *cobra.Command, args []string) error {
	edit, err := collectEdit(cmd)
	if err != nil {
		return err
	}

	sess, err := openSession(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer sess.Close()
	store := sess.store

	locale := template.Locale(editLocale)
	group, err := store.Edit(cmd.Context(), args[0], locale, edit)
	if err != nil {
		return fmt.Errorf("failed to edit group: %w", err)
	}
	metrics.IncGroupEdit("edit")

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Group updated: %s [%s]\n", group.GroupID, locale)
	printFindings(out, template.Validate(group.Versions[locale]))
	return nil
}

func runGroupPreview(cmd *cobra.Command, args []string) error {
	sess, err := openSession(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer sess.Close()
	store := sess.store

	group, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get group: %w", err)
	}
	if group == nil {
		return fmt.Errorf("group not found: %s", args[0])
	}

	v, ok := group.Version(template.Locale(previewLocale))
	if !ok {
		return fmt.Errorf("group %s has no %s version", args[0], previewLocale)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, template.PreviewText(v))
	fmt.Fprintln(out)
	printFindings(out, template.Validate(v))
	return nil
}

func runGroupValidate(cmd *cobra.Command, args []string) error {
	sess, err := openSession(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer sess.Close()
	store := sess.store

	groups, err := store.List(cmd.Context(), template.ListFilter{})
	if err != nil {
		return fmt.Errorf("failed to list groups: %w", err)
	}

	var entries []template.Entry
	for _, g := range groups {
		if len(args) == 1 && g.GroupID != args[0] {
			continue
		}
		for _, locale := range template.Locales {
			if validateLocale != "" && string(locale) != validateLocale {
				continue
			}
			if v, ok := g.Version(locale); ok {
				entries = append(entries, template.Entry{Group: g, Version: v})
			}
		}
	}
	if len(entries) == 0 {
		return fmt.Errorf("nothing to validate")
	}

	result := template.ValidateEntries(entries)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validated %d versions\n", len(entries))
	printFindings(out, result)

	if result.Blocked() {
		return fmt.Errorf("%d validation errors", len(result.Errors))
	}
	return nil
}

func printFindings(out io.Writer, result template.ValidationResult) {
	if len(result.Errors) == 0 && len(result.Warnings) == 0 {
		fmt.Fprintln(out, "OK: no problems found")
		return
	}
	for _, msg := range result.Errors {
		fmt.Fprintf(out, "ERROR: %s\n", msg)
	}
	for _, msg := range result.Warnings {
		fmt.Fprintf(out, "WARN:  %s\n", msg)
	}
}
