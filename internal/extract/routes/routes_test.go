package routes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exci-dev/exci/internal/types"
)

func TestExtractFile_ScopedGet(t *testing.T) {
	src := []byte(`defmodule AppWeb.Router do
  use Phoenix.Router

  scope "/api", AppWeb.API do
    get "/users", UserController, :index
  end
end
`)
	got := ExtractFile("lib/app_web/router.ex", src)
	require.Len(t, got.Routes, 1)
	assert.Equal(t, types.Route{
		Verb: "GET", Path: "/api/users", Controller: "AppWeb.API.UserController",
		Action: "index", Router: "AppWeb.Router", File: "lib/app_web/router.ex", Line: 5,
	}, got.Routes[0])
}

func TestExtractFile_ResourcesExpandsToEightRoutes(t *testing.T) {
	src := []byte(`defmodule AppWeb.Router do
  use Phoenix.Router

  resources "/users", UserController
end
`)
	got := ExtractFile("lib/app_web/router.ex", src)
	require.Len(t, got.Routes, 8)

	want := map[[2]string]string{
		{"GET", "/users"}:          "index",
		{"GET", "/users/new"}:      "new",
		{"POST", "/users"}:         "create",
		{"GET", "/users/:id"}:      "show",
		{"GET", "/users/:id/edit"}: "edit",
		{"PUT", "/users/:id"}:      "update",
		{"PATCH", "/users/:id"}:    "update",
		{"DELETE", "/users/:id"}:   "delete",
	}
	for _, r := range got.Routes {
		action, ok := want[[2]string{r.Verb, r.Path}]
		require.True(t, ok, "unexpected route %+v", r)
		assert.Equal(t, action, r.Action)
		assert.Equal(t, "UserController", r.Controller)
	}
}

func TestExtractFile_ResourcesOnlyFilter(t *testing.T) {
	src := []byte(`defmodule AppWeb.Router do
  use Phoenix.Router

  resources "/users", UserController, only: [:index, :show]
end
`)
	got := ExtractFile("lib/app_web/router.ex", src)
	require.Len(t, got.Routes, 2)
}

func TestExtractFile_ResourcesExceptFilter(t *testing.T) {
	src := []byte(`defmodule AppWeb.Router do
  use Phoenix.Router

  resources "/users", UserController, except: [:delete]
end
`)
	got := ExtractFile("lib/app_web/router.ex", src)
	require.Len(t, got.Routes, 6)
	for _, r := range got.Routes {
		assert.NotEqual(t, "delete", r.Action)
	}
}

func TestExtractFile_NestedResources(t *testing.T) {
	src := []byte(`defmodule AppWeb.Router do
  use Phoenix.Router

  resources "/users", UserController do
    resources "/posts", PostController
  end
end
`)
	got := ExtractFile("lib/app_web/router.ex", src)
	require.Len(t, got.Routes, 16)

	var found bool
	for _, r := range got.Routes {
		if r.Controller == "PostController" && r.Action == "index" {
			assert.Equal(t, "/users/:user_id/posts", r.Path)
			found = true
		}
	}
	assert.True(t, found)
}

func TestExtractFile_LiveRoute(t *testing.T) {
	src := []byte(`defmodule AppWeb.Router do
  use Phoenix.Router

  live "/counter", CounterLive
end
`)
	got := ExtractFile("lib/app_web/router.ex", src)
	require.Len(t, got.Routes, 1)
	assert.Equal(t, "live", got.Routes[0].Action)
	assert.Equal(t, "GET", got.Routes[0].Verb)
	assert.Equal(t, "CounterLive", got.Routes[0].Controller)
}

func TestExtractFile_NonRouterFileIsSkipped(t *testing.T) {
	src := []byte(`defmodule App.Accounts do
  def get_user(id), do: id
end
`)
	got := ExtractFile("lib/app/accounts.ex", src)
	assert.Empty(t, got.Routes)
}

func TestSingularize(t *testing.T) {
	assert.Equal(t, "category", singularize("categories"))
	assert.Equal(t, "address", singularize("addresses"))
	assert.Equal(t, "user", singularize("users"))
	assert.Equal(t, "data", singularize("data"))
}

func TestJoinPath_NoDoubleSlash(t *testing.T) {
	assert.Equal(t, "/api/users", joinPath("/api", "/users"))
	assert.Equal(t, "/api", joinPath("/api", ""))
	assert.Equal(t, "/users", joinPath("", "/users"))
}
