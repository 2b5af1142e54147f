package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exci-dev/exci/internal/types"
)

func TestExtractFile_SchemaWithFieldAssocAndTimestamps(t *testing.T) {
	src := []byte(`defmodule App.User do
  use Ecto.Schema

  schema "users" do
    field :email, :string
    has_many :posts, App.Post
    timestamps()
  end
end
`)
	got := ExtractFile("lib/app/user.ex", src)
	require.Len(t, got.Schemas, 1)

	sch := got.Schemas[0]
	assert.Equal(t, "App.User", sch.Module)
	assert.Equal(t, "users", sch.Source)
	require.Len(t, sch.Fields, 3)
	assert.Equal(t, types.SchemaField{Name: "email", Type: "string"}, sch.Fields[0])
	assert.Equal(t, types.SchemaField{Name: "inserted_at", Type: "naive_datetime"}, sch.Fields[1])
	assert.Equal(t, types.SchemaField{Name: "updated_at", Type: "naive_datetime"}, sch.Fields[2])

	require.Len(t, sch.Associations, 1)
	assert.Equal(t, types.SchemaAssociation{Kind: types.AssocHasMany, Name: "posts", Related: "App.Post"}, sch.Associations[0])
}

func TestExtractFile_EmbeddedSchemaHasNoSource(t *testing.T) {
	src := []byte(`defmodule App.Address do
  use Ecto.Schema

  embedded_schema do
    field :city, :string
    field :zip, :string
  end
end
`)
	got := ExtractFile("lib/app/address.ex", src)
	require.Len(t, got.Schemas, 1)
	assert.Equal(t, "", got.Schemas[0].Source)
	assert.Len(t, got.Schemas[0].Fields, 2)
}

func TestExtractFile_FieldDefaultsToStringWhenTypeOmitted(t *testing.T) {
	src := []byte(`defmodule App.User do
  use Ecto.Schema

  schema "users" do
    field :name
  end
end
`)
	got := ExtractFile("lib/app/user.ex", src)
	require.Len(t, got.Schemas, 1)
	require.Len(t, got.Schemas[0].Fields, 1)
	assert.Equal(t, "string", got.Schemas[0].Fields[0].Type)
}

func TestExtractFile_AllSixAssociationMacros(t *testing.T) {
	src := []byte(`defmodule App.User do
  use Ecto.Schema

  schema "users" do
    belongs_to :org, App.Org
    has_one :profile, App.Profile
    has_many :posts, App.Post
    many_to_many :roles, App.Role
    embeds_one :settings, App.Settings
    embeds_many :tags, App.Tag
  end
end
`)
	got := ExtractFile("lib/app/user.ex", src)
	require.Len(t, got.Schemas, 1)
	assocs := got.Schemas[0].Associations
	require.Len(t, assocs, 6)

	kinds := map[string]types.AssocKind{}
	for _, a := range assocs {
		kinds[a.Name] = a.Kind
	}
	assert.Equal(t, types.AssocBelongsTo, kinds["org"])
	assert.Equal(t, types.AssocHasOne, kinds["profile"])
	assert.Equal(t, types.AssocHasMany, kinds["posts"])
	assert.Equal(t, types.AssocManyToMany, kinds["roles"])
	assert.Equal(t, types.AssocEmbedsOne, kinds["settings"])
	assert.Equal(t, types.AssocEmbedsMany, kinds["tags"])
}

func TestExtractFile_NonSchemaFileIsSkipped(t *testing.T) {
	src := []byte(`defmodule App.Accounts do
  def get_user(id), do: id
end
`)
	got := ExtractFile("lib/app/accounts.ex", src)
	assert.Empty(t, got.Schemas)
}

func TestExtractFile_NestedModuleSchema(t *testing.T) {
	src := []byte(`defmodule App do
  defmodule User do
    use Ecto.Schema

    schema "users" do
      field :email, :string
    end
  end
end
`)
	got := ExtractFile("lib/app/user.ex", src)
	require.Len(t, got.Schemas, 1)
	assert.Equal(t, "App.User", got.Schemas[0].Module)
}

func TestIsSchemaFile(t *testing.T) {
	assert.True(t, IsSchemaFile([]byte("use Ecto.Schema")))
	assert.True(t, IsSchemaFile([]byte(`schema "users" do end`)))
	assert.True(t, IsSchemaFile([]byte("embedded_schema do end")))
	assert.False(t, IsSchemaFile([]byte("def foo, do: :bar")))
}
