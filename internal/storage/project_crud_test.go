package storage

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/config"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/types"
)

// Runs against a real database only when OPW_TEST_POSTGRES is set; the
// connection settings come from the usual OPW_DATABASE_* variables.
func testClient(t *testing.T) *PostgresClient {
	t.Helper()
	if os.Getenv("OPW_TEST_POSTGRES") == "" {
		t.Skip("OPW_TEST_POSTGRES not set")
	}
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	client, err := NewPostgresClient(ctx, cfg.Database)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(client.Close)
	if err := client.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	return client
}

func TestProjectCRUD(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	project := &types.Project{
		Name:    "crud-test",
		Symbols: []types.Symbol{{Name: "Motor1", Location: types.LocationOutput, Address: 4, Type: types.TypeReal}},
		Offsets: types.MemoryAreaOffsets{types.LocationOutput: {Offset: 64, Size: 64}},
		Watch:   []types.WatchSpec{{Name: "Motor1"}},
	}
	client.DeleteProject(ctx, project.Name)
	t.Cleanup(func() { client.DeleteProject(context.Background(), project.Name) })

	repo := NewProjectRepository(client, project.Name)
	if err := repo.Save(ctx, project); err != nil {
		t.Fatal(err)
	}
	rev, err := client.SaveProject(ctx, project)
	if err != nil || rev != 2 {
		t.Fatalf("second save: revision %d, %v", rev, err)
	}

	got, err := repo.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(project, got); diff != "" {
		t.Errorf("project (-want +got):\n%s", diff)
	}

	records, err := client.ListProjects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, r := range records {
		found = found || r.Name == project.Name
	}
	if !found {
		t.Error("saved project not listed")
	}

	if err := client.DeleteProject(ctx, project.Name); err != nil {
		t.Fatal(err)
	}
	if _, err := client.LoadProject(ctx, project.Name); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("load after delete: %v", err)
	}
}

func TestProjectRepositoryRejectsOtherName(t *testing.T) {
	repo := NewProjectRepository(nil, "a")
	if err := repo.Save(context.Background(), &types.Project{Name: "b"}); err == nil {
		t.Fatal("saved under the wrong name")
	}
}
