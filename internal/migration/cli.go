package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
)

var (
	appliedLabel = color.New(color.FgGreen).SprintFunc()
	pendingLabel = color.New(color.FgYellow).SprintFunc()
	dirtyLabel   = color.New(color.FgRed, color.Bold).SprintFunc()
)

// KnowledgeSchemaVersion SQL 知识库当前代码所需的表结构版本
const KnowledgeSchemaVersion uint = 2

// knowledgeChanges 每个版本对 swarm_knowledge 表的改动，三种方言一致
var knowledgeChanges = map[uint]string{
	1: "create swarm_knowledge (namespace, record_key) -> value, kind",
	2: "index swarm_knowledge on (namespace, kind)",
}

// SchemaState 知识库表结构状态
type SchemaState string

const (
	SchemaMissing  SchemaState = "missing"
	SchemaOutdated SchemaState = "outdated"
	SchemaReady    SchemaState = "ready"
	SchemaDirty    SchemaState = "dirty"
)

// SchemaReport 描述 swarm_knowledge 表结构能否被 SQL 知识库使用
type SchemaReport struct {
	Dialect  DatabaseType
	State    SchemaState
	Version  uint
	Required uint
	Pending  int
}

// NewSchemaReport 根据迁移信息判断表结构状态
func NewSchemaReport(dialect DatabaseType, info *MigrationInfo) SchemaReport {
	r := SchemaReport{
		Dialect:  dialect,
		Version:  info.CurrentVersion,
		Required: KnowledgeSchemaVersion,
		Pending:  info.PendingMigrations,
	}
	switch {
	case info.Dirty:
		r.State = SchemaDirty
	case info.CurrentVersion == 0:
		r.State = SchemaMissing
	case info.CurrentVersion < KnowledgeSchemaVersion:
		r.State = SchemaOutdated
	default:
		r.State = SchemaReady
	}
	return r
}

// Usable 报告 SQL 知识库能否在该结构上读写
func (r SchemaReport) Usable() bool {
	return r.State == SchemaReady
}

func (r SchemaReport) String() string {
	switch r.State {
	case SchemaDirty:
		return fmt.Sprintf("dirty at v%d: fix the failed migration, then run `swarmflow migrate force %d`", r.Version, r.Version)
	case SchemaMissing:
		return "missing: the sql knowledge store cannot open until `swarmflow migrate up`"
	case SchemaOutdated:
		return fmt.Sprintf("outdated: v%d of v%d, %d pending", r.Version, r.Required, r.Pending)
	default:
		return fmt.Sprintf("ready at v%d", r.Version)
	}
}

// Command 一条 migrate 子命令。N 用于 steps、goto 与 force
type Command struct {
	Name string
	N    int
}

// CLI swarmflow migrate 的输出层，每次变更后报告知识库表结构状态
type CLI struct {
	migrator Migrator
	dialect  DatabaseType
	out      io.Writer
}

// NewCLI 创建迁移控制台，默认输出到 stdout
func NewCLI(migrator Migrator, dialect DatabaseType) *CLI {
	return &CLI{migrator: migrator, dialect: dialect, out: os.Stdout}
}

// SetOutput 设置输出
func (c *CLI) SetOutput(w io.Writer) {
	c.out = w
}

// Run 执行子命令
func (c *CLI) Run(ctx context.Context, cmd Command) error {
	switch cmd.Name {
	case "up":
		return c.change(ctx, "applying pending knowledge schema migrations", func() error {
			return c.migrator.Up(ctx)
		})
	case "down":
		return c.change(ctx, "rolling back the last knowledge schema migration", func() error {
			return c.migrator.Down(ctx)
		})
	case "reset", "down-all":
		return c.change(ctx, "dropping the knowledge schema", func() error {
			return c.migrator.DownAll(ctx)
		})
	case "steps":
		verb := fmt.Sprintf("applying %d migration(s)", cmd.N)
		if cmd.N < 0 {
			verb = fmt.Sprintf("rolling back %d migration(s)", -cmd.N)
		}
		return c.change(ctx, verb, func() error { return c.migrator.Steps(ctx, cmd.N) })
	case "goto":
		if cmd.N < 0 {
			return fmt.Errorf("invalid version %d", cmd.N)
		}
		return c.change(ctx, fmt.Sprintf("migrating to v%d", cmd.N), func() error {
			return c.migrator.Goto(ctx, uint(cmd.N))
		})
	case "force":
		return c.change(ctx, fmt.Sprintf("forcing version to v%d", cmd.N), func() error {
			return c.migrator.Force(ctx, cmd.N)
		})
	case "version":
		return c.version(ctx)
	case "info":
		return c.info(ctx)
	case "status":
		return c.status(ctx)
	default:
		return fmt.Errorf("unknown migrate command %q", cmd.Name)
	}
}

// Report 读取当前表结构状态
func (c *CLI) Report(ctx context.Context) (SchemaReport, error) {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return SchemaReport{}, fmt.Errorf("read migration info: %w", err)
	}
	return NewSchemaReport(c.dialect, info), nil
}

func (c *CLI) change(ctx context.Context, verb string, fn func() error) error {
	fmt.Fprintf(c.out, "[%s] %s...\n", c.dialect, verb)
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", verb, err)
	}
	return c.printReport(ctx)
}

func (c *CLI) printReport(ctx context.Context) error {
	r, err := c.Report(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "knowledge schema: %s\n", c.colorState(r))
	return nil
}

func (c *CLI) colorState(r SchemaReport) string {
	switch r.State {
	case SchemaReady:
		return appliedLabel(r.String())
	case SchemaDirty:
		return dirtyLabel(r.String())
	default:
		return pendingLabel(r.String())
	}
}

func (c *CLI) version(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	switch {
	case version == 0:
		fmt.Fprintf(c.out, "[%s] no migrations applied yet\n", c.dialect)
	case dirty:
		fmt.Fprintf(c.out, "[%s] v%d %s\n", c.dialect, version, dirtyLabel("(dirty)"))
	default:
		fmt.Fprintf(c.out, "[%s] v%d\n", c.dialect, version)
	}
	return nil
}

func (c *CLI) status(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	if len(statuses) == 0 {
		fmt.Fprintf(c.out, "[%s] no migrations embedded for this dialect\n", c.dialect)
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tCHANGE\tSTATUS")
	for _, s := range statuses {
		change, ok := knowledgeChanges[s.Version]
		if !ok {
			change = s.Name
		}
		// 状态放在最后一列，颜色转义不影响对齐
		state := pendingLabel("pending")
		if s.Applied {
			state = appliedLabel("applied")
		}
		if s.Dirty {
			state = dirtyLabel("dirty")
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, change, state)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(c.out)
	return c.printReport(ctx)
}

func (c *CLI) info(ctx context.Context) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return fmt.Errorf("read migration info: %w", err)
	}
	r := NewSchemaReport(c.dialect, info)
	fmt.Fprintf(c.out, "dialect:   %s\n", c.dialect)
	fmt.Fprintf(c.out, "version:   %d (required %d)\n", r.Version, r.Required)
	fmt.Fprintf(c.out, "applied:   %d of %d\n", info.AppliedMigrations, info.TotalMigrations)
	fmt.Fprintf(c.out, "pending:   %d\n", info.PendingMigrations)
	fmt.Fprintf(c.out, "schema:    %s\n", c.colorState(r))
	return nil
}
