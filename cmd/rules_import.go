package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"alertpipe/bootstrap"
	"alertpipe/config"
	"alertpipe/core"
)

var importTenant string

// ruleBundle is the YAML import document. Each section is optional.
type ruleBundle struct {
	DeduplicationRules []yamlDedupRule      `yaml:"deduplication_rules"`
	MappingRules       []yamlMappingRule    `yaml:"mapping_rules"`
	ExtractionRules    []yamlExtractionRule `yaml:"extraction_rules"`
	BlackoutRules      []yamlBlackoutRule   `yaml:"blackout_rules"`
}

type yamlDedupRule struct {
	Name              string   `yaml:"name"`
	ProviderType      string   `yaml:"provider_type"`
	ProviderID        string   `yaml:"provider_id"`
	FingerprintFields []string `yaml:"fingerprint_fields"`
	FullDeduplication bool     `yaml:"full_deduplication"`
	IgnoreFields      []string `yaml:"ignore_fields"`
	Priority          int      `yaml:"priority"`
}

type yamlMappingRule struct {
	Name            string              `yaml:"name"`
	Type            string              `yaml:"type"`
	Matchers        [][]string          `yaml:"matchers"`
	IsMultiLevel    bool                `yaml:"is_multi_level"`
	NewPropertyName string              `yaml:"new_property_name"`
	Priority        int                 `yaml:"priority"`
	Rows            []map[string]string `yaml:"rows"`
}

type yamlExtractionRule struct {
	Name      string `yaml:"name"`
	Attribute string `yaml:"attribute"`
	Regex     string `yaml:"regex"`
	Condition string `yaml:"condition"`
	Pre       bool   `yaml:"pre"`
	Priority  int    `yaml:"priority"`
}

type yamlBlackoutRule struct {
	Name            string     `yaml:"name"`
	CELQuery        string     `yaml:"cel_query"`
	StartTime       time.Time  `yaml:"start_time"`
	EndTime         *time.Time `yaml:"end_time"`
	DurationSeconds int64      `yaml:"duration_seconds"`
	Enabled         bool       `yaml:"enabled"`
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage rule definitions",
}

var rulesImportCmd = &cobra.Command{
	Use:   "import [files...]",
	Short: "Import rule definitions from YAML files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if importTenant == "" {
			return fmt.Errorf("--tenant is required")
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		app, err := bootstrap.NewApp(cfg)
		if err != nil {
			return err
		}
		defer app.Shutdown()

		ctx := cmd.Context()
		total := 0
		for _, path := range args {
			n, err := importFile(ctx, app, path)
			if err != nil {
				return fmt.Errorf("failed to import %s: %w", path, err)
			}
			total += n
		}
		app.Logger.Infow("Rule import complete", "tenant_id", importTenant, "rules", total)
		return nil
	},
}

func importFile(ctx context.Context, app *bootstrap.App, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var bundle ruleBundle
	if err := yaml.Unmarshal(data, &bundle); err != nil {
		return 0, fmt.Errorf("invalid YAML: %w", err)
	}

	count := 0
	for _, r := range bundle.DeduplicationRules {
		rule := &core.DeduplicationRule{
			TenantID:          importTenant,
			ProviderType:      r.ProviderType,
			ProviderID:        r.ProviderID,
			FingerprintFields: r.FingerprintFields,
			FullDeduplication: r.FullDeduplication,
			IgnoreFields:      r.IgnoreFields,
			Priority:          r.Priority,
		}
		if err := app.Rules.CreateDeduplicationRule(ctx, rule); err != nil {
			return count, fmt.Errorf("deduplication rule %q: %w", r.Name, err)
		}
		count++
	}

	for _, r := range bundle.MappingRules {
		rule := &core.MappingRule{
			TenantID:        importTenant,
			Name:            r.Name,
			Type:            r.Type,
			Matchers:        r.Matchers,
			IsMultiLevel:    r.IsMultiLevel,
			NewPropertyName: r.NewPropertyName,
			Priority:        r.Priority,
		}
		rows := make([]core.MappingRow, 0, len(r.Rows))
		for i, values := range r.Rows {
			rows = append(rows, core.MappingRow{Position: i, Values: values})
		}
		if err := app.Rules.CreateMappingRule(ctx, rule, rows); err != nil {
			return count, fmt.Errorf("mapping rule %q: %w", r.Name, err)
		}
		count++
	}

	for _, r := range bundle.ExtractionRules {
		rule := &core.ExtractionRule{
			TenantID:  importTenant,
			Name:      r.Name,
			Attribute: r.Attribute,
			Regex:     r.Regex,
			Condition: r.Condition,
			Pre:       r.Pre,
			Priority:  r.Priority,
		}
		if err := app.Rules.CreateExtractionRule(ctx, rule); err != nil {
			return count, fmt.Errorf("extraction rule %q: %w", r.Name, err)
		}
		count++
	}

	for _, r := range bundle.BlackoutRules {
		rule := &core.BlackoutRule{
			TenantID:        importTenant,
			Name:            r.Name,
			CELQuery:        r.CELQuery,
			StartTime:       r.StartTime,
			EndTime:         r.EndTime,
			DurationSeconds: r.DurationSeconds,
			Enabled:         r.Enabled,
		}
		if err := app.Rules.CreateBlackoutRule(ctx, rule); err != nil {
			return count, fmt.Errorf("blackout rule %q: %w", r.Name, err)
		}
		count++
	}

	return count, nil
}

func init() {
	rulesImportCmd.Flags().StringVar(&importTenant, "tenant", "", "tenant to import rules into (required)")
	rulesCmd.AddCommand(rulesImportCmd)
	rootCmd.AddCommand(rulesCmd)
}
