package ddl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/apperrors"
)

func custContext() *ExpansionContext {
	return &ExpansionContext{
		TableName: "cust",
		RowKey:    "cust.cust_id=new.cust_id",
		Declared:  &Declarations{},
	}
}

func TestParseMacros_Nesting(t *testing.T) {
	nodes, err := ParseMacros("select 1; set(a, inserted(b));")
	require.NoError(t, err)
	require.Len(t, nodes, 3)

	assert.Equal(t, Text{Value: "select 1; "}, nodes[0])
	call, ok := nodes[1].(Call)
	require.True(t, ok)
	assert.Equal(t, "set", call.Name)
	require.Len(t, call.Args, 2)
	assert.Equal(t, []Node{Text{Value: "a"}}, call.Args[0])
	assert.Equal(t, []Node{Text{Value: " "}, Call{Name: "inserted", Args: [][]Node{{Text{Value: "b"}}}}}, call.Args[1])
	assert.Equal(t, Text{Value: ";"}, nodes[2])
}

func TestExpandMacros(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "set with nested inserted",
			in:   "set(a, inserted(b));",
			want: "update cust set a=new.b where cust.cust_id=new.cust_id;",
		},
		{
			name: "setif",
			in:   "setif(update(x), y, 1);",
			want: "update cust set y=1 where cust.cust_id=new.cust_id and ((old.x is distinct from new.x));",
		},
		{
			name: "null and deleted",
			in:   "if null(deleted(x)) then",
			want: "if (old.x is null) then",
		},
		{
			name: "top1 keeps commas inside parentheses",
			in:   "top1(select f(a, b) from t)",
			want: "select f(a, b) from t limit 1",
		},
		{
			name: "insert_values joins arguments",
			in:   "insert into t(a,b) insert_values(1, 'x')",
			want: "insert into t(a,b) values(1,'x')",
		},
		{
			name: "concat",
			in:   "concat(a, 'b', c)",
			want: "(a || 'b' || c)",
		},
		{
			name: "empty concat",
			in:   "concat()",
			want: "null",
		},
		{
			name: "identity helpers",
			in:   "increment_changes(1); clear_insert_identity(); last_insert_identity()",
			want: "NULL; NULL; lastval()",
		},
		{
			name: "quoted and qualified names are not macros",
			in:   "select 'set(a,b)', x.update(y), myset(z), \"null(\"",
			want: "select 'set(a,b)', x.update(y), myset(z), \"null(\"",
		},
		{
			name: "name without parenthesis is plain text",
			in:   "update t set a = 1 where %%%ROWKEY%%%",
			want: "update t set a = 1 where cust.cust_id=new.cust_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandMacros(tt.in, custContext())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpandMacros_ErrorIf(t *testing.T) {
	got, err := ExpandMacros("errorif(new.x < 0, 'Negative balance')", custContext())
	require.NoError(t, err)
	assert.Equal(t, "if (new.x < 0) then \n  raise exception 'Application Error - Negative balance'; \nend if", got)

	got, err = ExpandMacros("errorif(new.x < 0, msg)", custContext())
	require.NoError(t, err)
	assert.Contains(t, got, "raise exception msg;")
}

func TestExpandMacros_WithInsertIdentity(t *testing.T) {
	ctx := custContext()
	got, err := ExpandMacros(
		"with_insert_identity(audit, audit_id, insert into audit(x) values(1), insert into log(a) values(@@INSERT_ID))", ctx)
	require.NoError(t, err)

	assert.Equal(t, "insert into audit(x) values(1) RETURNING audit_id INTO insert_id;\n"+
		"insert into log(a) values(insert_id);\n", got)
	assert.Equal(t, []Variable{{Name: "insert_id", Type: "bigint"}}, ctx.Declared.Vars())

	// Declaring twice keeps one variable.
	_, err = ExpandMacros("with_insert_identity(a, id, insert into a default values, select 1)", ctx)
	require.NoError(t, err)
	assert.Len(t, ctx.Declared.Vars(), 1)
}

func TestExpandMacros_WithoutDeclarations(t *testing.T) {
	ctx := &ExpansionContext{TableName: "cust"}
	_, err := ExpandMacros("with_insert_identity(a, id, insert into a default values, select 1)", ctx)
	assert.NoError(t, err)
}

func TestEval_UnknownMacro(t *testing.T) {
	_, err := Eval([]Node{Text{Value: "select "}, Call{Name: "frobnicate"}}, custContext())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnknownMacro)

	var cfgErr *apperrors.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "frobnicate", cfgErr.Object)
}

func TestExpandMacros_TooFewArguments(t *testing.T) {
	_, err := ExpandMacros("set(a)", custContext())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnknownMacro)
	assert.ErrorContains(t, err, "expects at least 2")
}

func TestParseMacros_Unbalanced(t *testing.T) {
	_, err := ParseMacros("set(a, (b")
	assert.ErrorContains(t, err, "unbalanced")
}

func TestIsMacro(t *testing.T) {
	assert.True(t, IsMacro("with_insert_identity"))
	assert.False(t, IsMacro("coalesce"))
}
