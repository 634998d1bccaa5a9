// Package output provides functions to print messages with optional color formatting
package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"github.com/framer-cd/framer/domain"
)

const (
	Plain   = color.FgWhite
	Success = color.FgGreen
	Warning = color.FgYellow
	Error   = color.FgRed
)

const timeFormat = "2006-01-02 15:04:05"

var maybeColorize func(kind color.Attribute, tmpl string, a ...any) string

// InitColors sets up color functions based on environment
func InitColors(isColorDisabled bool) {
	if color.NoColor || isColorDisabled {
		maybeColorize = func(kind color.Attribute, tmpl string, a ...any) string {
			return fmt.Sprintf(tmpl, a...)
		}
	} else {
		maybeColorize = func(kind color.Attribute, tmpl string, a ...any) string {
			return color.New(kind).SprintfFunc()(tmpl, a...)
		}
	}
}

// PrintMessage formats a message with color (if enabled)
func PrintMessage(kind color.Attribute, tmpl string, a ...any) string {
	if maybeColorize == nil || kind == Plain {
		return fmt.Sprintf(tmpl+"\n", a...)
	}
	return fmt.Sprintln(maybeColorize(kind, tmpl, a...))
}

// FprintPlain writes an uncolored message to the command's output
func FprintPlain(cmd *cobra.Command, tmpl string, a ...any) error {
	_, err := fmt.Fprint(cmd.OutOrStdout(), PrintMessage(Plain, tmpl, a...))
	return err
}

// FprintSuccess writes a success message to the command's output
func FprintSuccess(cmd *cobra.Command, tmpl string, a ...any) error {
	_, err := fmt.Fprint(cmd.OutOrStdout(), PrintMessage(Success, tmpl, a...))
	return err
}

// FprintWarning writes a warning to the command's error output
func FprintWarning(cmd *cobra.Command, tmpl string, a ...any) error {
	_, err := fmt.Fprint(cmd.ErrOrStderr(), PrintMessage(Warning, tmpl, a...))
	return err
}

// FprintError writes an error to the command's error output
func FprintError(cmd *cobra.Command, tmpl string, a ...any) error {
	_, err := fmt.Fprint(cmd.ErrOrStderr(), PrintMessage(Error, tmpl, a...))
	return err
}

func PrintTable(header []string, data [][]string) (string, error) {
	buf := strings.Builder{}

	table := tablewriter.NewTable(
		&buf,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines: tw.Lines{
					ShowHeaderLine: tw.Off,
				},
				Separators: tw.Separators{
					BetweenColumns: tw.Off,
				},
			},
		})),
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Alignment: tw.CellAlignment{PerColumn: []tw.Align{tw.AlignRight, tw.AlignLeft}},
			},
		}))

	if len(header) > 0 {
		table.Header(header)
	}

	if err := table.Bulk(data); err != nil {
		return "", fmt.Errorf("bulk adding data to table: %w", err)
	}

	if err := table.Render(); err != nil {
		return "", fmt.Errorf("rendering table: %w", err)
	}

	return buf.String(), nil
}

// colorStatus colors a status by whether it is good, bad or in flight
func colorStatus(status string) string {
	if maybeColorize == nil {
		return status
	}
	switch status {
	case "deployed", "completed", "success":
		return maybeColorize(Success, "%s", status)
	case "failed", "deploy_failed":
		return maybeColorize(Error, "%s", status)
	case "created", "pending":
		return status
	default:
		return maybeColorize(Warning, "%s", status)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeFormat)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func PrintProjectDetails(project *domain.Project, builds []*domain.Build) (string, error) {
	data := [][]string{
		{"ID", project.ID.String()},
		{"Name", project.Name},
		{"Owner", project.OwnerID},
		{"Status", colorStatus(project.Status.String())},
		{"Working Directory", orDash(project.WorkingDir)},
		{"Repository", orDash(project.RepoURL)},
		{"Branch", orDash(project.GitBranch)},
		{"Deployment Project", orDash(project.DeploymentProjectID)},
		{"Deployment URL", orDash(project.DeploymentURL)},
	}
	if url := project.Metadata["frontend_url"]; url != "" {
		data = append(data, []string{"Frontend URL", url})
	}
	data = append(data,
		[][]string{
			{"Created At", formatTime(project.CreatedAt)},
			{"Updated At", formatTime(project.UpdatedAt)},
		}...,
	)

	table, err := PrintTable([]string{}, data)
	if err != nil {
		return "", fmt.Errorf("printing project details table: %w", err)
	}
	if len(builds) == 0 {
		return table, nil
	}

	buildTable, err := PrintBuildList(builds)
	if err != nil {
		return "", err
	}
	return table + "\nBuilds:\n" + buildTable, nil
}

func PrintProjectList(projects []*domain.Project) (string, error) {
	if len(projects) == 0 {
		return PrintMessage(Plain, "No projects found."), nil
	}

	header := []string{"ID", "Name", "Owner", "Status", "Deployment URL", "Created At"}
	var data [][]string
	for _, project := range projects {
		data = append(data, []string{
			project.ID.String(),
			project.Name,
			project.OwnerID,
			colorStatus(project.Status.String()),
			orDash(project.DeploymentURL),
			formatTime(project.CreatedAt),
		})
	}

	table, err := PrintTable(header, data)
	if err != nil {
		return "", fmt.Errorf("printing project list table: %w", err)
	}
	return table, nil
}

func PrintBuildList(builds []*domain.Build) (string, error) {
	header := []string{"ID", "Commit", "Status", "Deployment", "Created At"}
	var data [][]string
	for _, build := range builds {
		data = append(data, []string{
			build.ID.String(),
			shortHash(build.CommitHash),
			colorStatus(build.Status.String()),
			orDash(build.DeploymentID),
			formatTime(build.CreatedAt),
		})
	}

	table, err := PrintTable(header, data)
	if err != nil {
		return "", fmt.Errorf("printing build list table: %w", err)
	}
	return table, nil
}

func PrintBuildDetails(build *domain.Build, logs []*domain.LogEntry) (string, error) {
	data := [][]string{
		{"ID", build.ID.String()},
		{"Project", build.ProjectID.String()},
		{"Commit", orDash(build.CommitHash)},
		{"Status", colorStatus(build.Status.String())},
		{"Deployment", orDash(build.DeploymentID)},
		{"Error", orDash(build.Error())},
		{"Updated At", formatTime(build.UpdatedAt)},
	}
	table, err := PrintTable([]string{}, data)
	if err != nil {
		return "", fmt.Errorf("printing build details table: %w", err)
	}
	return table + printLogs(logs), nil
}

func PrintJobList(jobs []*domain.Job) (string, error) {
	if len(jobs) == 0 {
		return PrintMessage(Plain, "No jobs found."), nil
	}

	header := []string{"ID", "Type", "Status", "State", "Project", "Created At"}
	var data [][]string
	for _, job := range jobs {
		project := "-"
		if job.ProjectID != nil {
			project = job.ProjectID.String()
		}
		data = append(data, []string{
			job.ID.String(),
			job.Type.String(),
			colorStatus(job.Status.String()),
			job.State.String(),
			project,
			formatTime(job.CreatedAt),
		})
	}

	table, err := PrintTable(header, data)
	if err != nil {
		return "", fmt.Errorf("printing job list table: %w", err)
	}
	return table, nil
}

func PrintJobDetails(job *domain.Job, logs []*domain.LogEntry) (string, error) {
	project := "-"
	if job.ProjectID != nil {
		project = job.ProjectID.String()
	}
	data := [][]string{
		{"ID", job.ID.String()},
		{"Type", job.Type.String()},
		{"Status", colorStatus(job.Status.String())},
		{"State", job.State.String()},
		{"Project", project},
		{"Error", orDash(job.Data.Error)},
		{"Created At", formatTime(job.CreatedAt)},
		{"Updated At", formatTime(job.UpdatedAt)},
	}
	table, err := PrintTable([]string{}, data)
	if err != nil {
		return "", fmt.Errorf("printing job details table: %w", err)
	}
	return table + printLogs(logs), nil
}

func printLogs(logs []*domain.LogEntry) string {
	if len(logs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nLog:\n")
	for _, entry := range logs {
		fmt.Fprintf(&b, "%s [%s] %s\n", entry.CreatedAt.Local().Format(timeFormat), entry.Source, entry.Text)
	}
	return b.String()
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return orDash(hash)
}

// NoColor is a flag that can be used to disable colored output in the CLI.
var NoColor = &noColorFlag{set: false}

type noColorFlag struct {
	set bool
}

func (f *noColorFlag) Set(value string) error {
	// Boolean flag, the value is ignored
	f.set = true
	return nil
}

func (f *noColorFlag) String() string {
	if f.set {
		return "true"
	}
	return "false"
}

func (f *noColorFlag) Type() string {
	return "bool"
}

// IsSet returns true if the --no-color flag was explicitly set
func (f *noColorFlag) IsSet() bool {
	return f.set
}

// IsBoolFlag tells pflag this is a boolean flag (no argument required)
func (f *noColorFlag) IsBoolFlag() bool {
	return true
}
