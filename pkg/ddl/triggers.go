package ddl

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/models"
	pgsql "github.com/ekaya-inc/ekaya-pgsql/pkg/sql"
)

// Trigger events a descriptor can bind code to.
const (
	EventValidateInsert = "validate_insert"
	EventValidateUpdate = "validate_update"
	EventInsert         = "insert"
	EventUpdate         = "update"
	EventDelete         = "delete"
)

type triggerEvent struct {
	name   string
	timing string // before | after | instead of
	op     string
}

var (
	tableEvents = []triggerEvent{
		{EventValidateInsert, "before", "insert"},
		{EventValidateUpdate, "before", "update"},
		{EventInsert, "after", "insert"},
		{EventUpdate, "after", "update"},
		{EventDelete, "after", "delete"},
	}
	viewEvents = []triggerEvent{
		{EventInsert, "instead of", "insert"},
		{EventUpdate, "instead of", "update"},
		{EventDelete, "instead of", "delete"},
	}
)

// triggerSlot is one (family, event) pair of the naming plan.
type triggerSlot struct {
	family   string
	event    triggerEvent
	function string // schema qualified
	trigger  string
}

// triggerPlan names every function and trigger an object can have. Names are
// requested in a fixed order so Triggers and DropTriggers agree.
func (c *Compiler) triggerPlan(obj *models.ObjectDescriptor) []triggerSlot {
	var events []triggerEvent
	switch obj.Kind {
	case models.KindTable:
		events = tableEvents
	case models.KindView:
		events = viewEvents
	default:
		return nil
	}

	families := []string{""}
	seen := map[string]bool{"": true}
	for _, t := range obj.Triggers {
		if !seen[t.Prefix] {
			seen[t.Prefix] = true
			families = append(families, t.Prefix)
		}
	}

	schema := c.objectSchema(obj)
	_, table := models.SplitName(c.resolve(obj.Name))
	namer := NewNamer()

	var plan []triggerSlot
	for _, family := range families {
		for _, ev := range events {
			parts := []string{table}
			if family != "" {
				parts = append(parts, family)
			}
			parts = append(parts, ev.name)
			plan = append(plan, triggerSlot{
				family:   family,
				event:    ev,
				function: schema + "." + namer.Name(parts...),
				trigger:  namer.Name(append([]string{schema}, parts...)...),
			})
		}
	}
	return plan
}

// Triggers returns the trigger functions and bindings of every family. Slots
// without code produce nothing.
func (c *Compiler) Triggers(obj *models.ObjectDescriptor) (string, error) {
	if obj == nil {
		return "", apperrors.Configf("", nil, "object descriptor is required")
	}
	table := c.resolve(obj.Name)
	schema := c.objectSchema(obj)

	var sb strings.Builder
	for _, slot := range c.triggerPlan(obj) {
		body, decl, err := c.triggerBody(obj, slot)
		if err != nil {
			return "", err
		}
		if body == "" {
			continue
		}
		writeTriggerFunction(&sb, slot, schema, body, decl)
		fmt.Fprintf(&sb, "create trigger %s %s %s on %s for each row execute procedure %s();\n",
			slot.trigger, slot.event.timing, slot.event.op, table, slot.function)
	}
	return c.resolve(sb.String()), nil
}

// DropTriggers returns SQL removing the triggers Triggers would create.
func (c *Compiler) DropTriggers(obj *models.ObjectDescriptor) (string, error) {
	if obj == nil {
		return "", apperrors.Configf("", nil, "object descriptor is required")
	}
	table := c.resolve(obj.Name)

	var sb strings.Builder
	for _, slot := range c.triggerPlan(obj) {
		body, _, err := c.triggerBody(obj, slot)
		if err != nil {
			return "", err
		}
		if body == "" {
			continue
		}
		fmt.Fprintf(&sb, "drop trigger if exists %s on %s;\n", slot.trigger, table)
		fmt.Fprintf(&sb, "drop function if exists %s();\n", slot.function)
	}
	return sb.String(), nil
}

// triggerBody collects and expands the code of one slot. It returns "" when
// the slot has no code.
func (c *Compiler) triggerBody(obj *models.ObjectDescriptor, slot triggerSlot) (string, *Declarations, error) {
	var parts []string
	if slot.family == "" {
		parts = append(parts, implicitRules(obj, slot.event.name)...)
	}
	for _, t := range obj.Triggers {
		if t.Prefix != slot.family || !t.Fires(slot.event.name) {
			continue
		}
		if s := strings.TrimSpace(t.SQL.String()); s != "" {
			parts = append(parts, s)
		}
		if len(t.Exec) > 0 {
			parts = append(parts, pgsql.JoinStatements(t.Exec...))
		}
	}
	if len(parts) == 0 {
		return "", nil, nil
	}

	decl := &Declarations{}
	ctx := &ExpansionContext{
		TableName: c.resolve(obj.Name),
		RowKey:    c.rowKey(obj, slot.event.name),
		Declared:  decl,
	}
	body, err := ExpandMacros(strings.Join(parts, "\n"), ctx)
	if err != nil {
		return "", nil, wrapObjectError(obj.Name, err)
	}
	body = doubleSemicolonRegex.ReplaceAllString(body, ";")
	return body, decl, nil
}

// implicitRules are generated from column descriptors for the default
// family: sql defaults applied on insert and prevent_update guards.
func implicitRules(obj *models.ObjectDescriptor, event string) []string {
	if obj.Kind != models.KindTable {
		return nil
	}
	var rules []string
	for _, col := range obj.Columns {
		switch event {
		case EventValidateInsert:
			if col.Default.IsSQL() {
				rules = append(rules, fmt.Sprintf("IF (NEW.%s is null) THEN NEW.%s := %s; END IF;",
					col.Name, col.Name, col.Default.SQL))
			}
		case EventValidateUpdate:
			if col.HasAction(models.ActionPreventUpdate) {
				rules = append(rules, fmt.Sprintf("IF (OLD.%s is distinct from NEW.%s) THEN raise exception %s; END IF;",
					col.Name, col.Name, pgsql.Quote("Application Error - Cannot update column "+col.Name)))
			}
		}
	}
	return rules
}

// rowKey is the predicate selecting the trigger's row in the table. Only
// insert events see the new key; every other event matches the stored one.
func (c *Compiler) rowKey(obj *models.ObjectDescriptor, event string) string {
	row := "old"
	if event == EventInsert || event == EventValidateInsert {
		row = "new"
	}
	table := c.resolve(obj.Name)
	keys := obj.PrimaryKeys()
	conds := make([]string, len(keys))
	for i, k := range keys {
		conds[i] = table + "." + k.Name + "=" + row + "." + k.Name
	}
	return strings.Join(conds, " and ")
}

func writeTriggerFunction(sb *strings.Builder, slot triggerSlot, schema, body string, decl *Declarations) {
	fmt.Fprintf(sb, "create function %s() returns trigger language plpgsql as $trigger$\n", slot.function)
	if vars := decl.Vars(); len(vars) > 0 {
		sb.WriteString("declare\n")
		for _, v := range vars {
			fmt.Fprintf(sb, "  %s %s;\n", v.Name, v.Type)
		}
	}
	sb.WriteString("begin\n")
	fmt.Fprintf(sb, "  set search_path = %s,pg_catalog;\n", schema)
	if slot.event.timing == "after" {
		fn := pgsql.Quote(slot.function)
		fmt.Fprintf(sb, "  IF pg_trigger_depth() > 1 THEN\n"+
			"    IF coalesce(current_setting('%s', true),'') = %s THEN\n"+
			"      return NULL;\n"+
			"    END IF;\n"+
			"  END IF;\n"+
			"  set %s to %s;\n", pgsql.SessionVarLastTriggerSource, fn, pgsql.SessionVarLastTriggerSource, fn)
	}
	sb.WriteString("\n" + body + "\n\n")
	sb.WriteString("  IF TG_OP = 'DELETE' THEN RETURN OLD; END IF;\n")
	sb.WriteString("  RETURN NEW;\n")
	sb.WriteString("end;\n$trigger$;\n")
}

func wrapObjectError(object string, err error) error {
	if cfgErr, ok := err.(*apperrors.ConfigurationError); ok {
		if cfgErr.Object == "" {
			cfgErr.Object = object
		} else {
			cfgErr.Object = object + " > " + cfgErr.Object
		}
		return cfgErr
	}
	return apperrors.Configf(object, nil, "%s", err.Error())
}
