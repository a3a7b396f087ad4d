package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorustyt/navtile/common"
	"github.com/gorustyt/navtile/config"
	"github.com/gorustyt/navtile/detour"
	"github.com/gorustyt/navtile/nav_system"
	"github.com/gorustyt/navtile/tile_manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testScene = `
floors:
  - min: [0, -1, 0]
    max: [24, 0, 10]
    areas:
      - {min: [20, -1, 0], max: [24, 1, 10], area: Water}
    links:
      - {start: [23, 0, 5], end: [27, 0, 5], radius: 0.5, bidir: true}
  - min: [26, -1, 0]
    max: [50, 0, 10]
obstacles:
  - {min: [5, -1, 4], max: [6, 1, 6]}
  - {min: [12, 0, 2], radius: 0.5, height: 2}
`

func setup(t *testing.T) {
	t.Helper()
	cfg = config.Default()
	cfg.NavMesh = config.NavMeshConfig{TileSize: 10, MaxTiles: 64, MaxPolys: 1024}
	cfg.Generator.CellsPerTile = 10
	cfg.Areas = []config.AreaConfig{{Name: "Water", Cost: 4, Flags: 0x10}}
	logger = zap.NewNop()
}

func buildScene(t *testing.T) *nav_system.System {
	t.Helper()
	setup(t)
	sc, err := ParseScene([]byte(testScene))
	require.NoError(t, err)

	s, err := nav_system.New(cfg, nav_system.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })
	s.Start(context.Background())
	require.NoError(t, sc.Apply(s))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	inv := sceneInvoker(sc.Bounds(), cfg.NavMesh.TileSize)
	_, err = s.Tick(ctx, time.Now(), []tile_manager.Invoker{inv})
	require.NoError(t, err)
	require.NoError(t, s.WaitIdle(ctx))
	return s
}

func TestParseScene(t *testing.T) {
	sc, err := ParseScene([]byte(testScene))
	require.NoError(t, err)
	require.Len(t, sc.Floors, 2)
	assert.Len(t, sc.Obstacles, 2)
	assert.Equal(t, common.NewAABB(common.Vec3{0, -1, 0}, common.Vec3{50, 0, 10}), sc.Bounds())

	_, err = ParseScene([]byte("floors: []\n"))
	assert.Error(t, err, "a scene needs floors")
	_, err = ParseScene([]byte("floors:\n  - areas: [{min: [0,0,0], max: [1,1,1]}]\n"))
	assert.Error(t, err, "area name required")
}

func TestSceneUnknownArea(t *testing.T) {
	setup(t)
	sc, err := ParseScene([]byte("floors:\n  - min: [0,-1,0]\n    max: [10,0,10]\n    areas: [{min: [0,0,0], max: [1,1,1], area: Lava}]\n"))
	require.NoError(t, err)
	s, err := nav_system.New(cfg)
	require.NoError(t, err)
	defer s.Close()
	assert.ErrorIs(t, sc.Apply(s), detour.ErrUnknownElement)
}

func TestSceneInvokerCoversScene(t *testing.T) {
	b := common.NewAABB(common.Vec3{0, -1, 0}, common.Vec3{50, 0, 10})
	inv := sceneInvoker(b, 10)
	assert.Equal(t, common.Vec3{25, -0.5, 5}, inv.Location)
	assert.Greater(t, inv.RadiusAdd, float32(25+10))
	assert.Greater(t, inv.RadiusRemove, inv.RadiusAdd)
}

func TestBuildSceneAndRunCases(t *testing.T) {
	s := buildScene(t)
	mesh := s.NavMesh()
	assert.Equal(t, []detour.TileKey{{X: 0}, {X: 1}, {X: 2}, {X: 3}, {X: 4}}, mesh.TileKeys())
	assert.Len(t, mesh.TileAt(detour.TileKey{X: 2}).OffMeshCons, 1)

	cases, err := ParseCases(strings.NewReader(`
# around the box and over the gap
pf 1 0 5 45 0 5 ffff 0
pf 1 0 5 45 0 5 ffff 10
rc 1 0 1 9 0 1 ffff 0
rc 1 0 5 9 0 5 ffff 0
`))
	require.NoError(t, err)
	require.Len(t, cases, 4)

	res, err := RunCases(s, cases)
	require.NoError(t, err)
	assert.True(t, res[0].OK, "the link joins the floors")
	assert.Greater(t, res[0].Points, 2)
	assert.False(t, res[1].OK, "the link starts in water")
	assert.Equal(t, "clear", res[2].Status)
	assert.Equal(t, "hit", res[3].Status, "the box obstacle blocks the ray")
	assert.Less(t, res[3].Length, float32(4.5))
}

func TestSaveAndInspect(t *testing.T) {
	s := buildScene(t)
	path := filepath.Join(t.TempDir(), "scene.bin")
	require.NoError(t, writeFile(path, s.Save))

	var out bytes.Buffer
	inspectCmd.SetOut(&out)
	inspectCmd.SetContext(context.Background())
	require.NoError(t, runInspect(inspectCmd, []string{path}))
	assert.Contains(t, out.String(), "5 tiles")
	assert.Contains(t, out.String(), "4,0,0")

	_, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, queryFrom.Set("1,0,5"))
	require.NoError(t, queryTo.Set("45,0,5"))
	out.Reset()
	pathCmd.SetOut(&out)
	pathCmd.SetContext(context.Background())
	require.NoError(t, runPath(pathCmd, []string{path}))
	assert.True(t, strings.HasPrefix(out.String(), "status success"), out.String())
}

func TestParseCasesErrors(t *testing.T) {
	_, err := ParseCases(strings.NewReader("xx 1 2 3\n"))
	assert.ErrorContains(t, err, "line 1")
	_, err = ParseCases(strings.NewReader("\npf 1 2 3\n"))
	assert.ErrorContains(t, err, "line 2")
}

func TestParseVec3(t *testing.T) {
	v, err := parseVec3("1, -2.5,3")
	require.NoError(t, err)
	assert.Equal(t, common.Vec3{1, -2.5, 3}, v)
	_, err = parseVec3("1,2")
	assert.Error(t, err)
	_, err = parseVec3("1,b,3")
	assert.Error(t, err)

	var fv vec3Value
	require.NoError(t, fv.Set("4,5,6"))
	assert.Equal(t, "4,5,6", fv.String())
}
