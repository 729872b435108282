// Package terrain renders planet-scale terrain as a quadtree of tiles.
//
// # Overview
//
// An Engine keeps a forest of root tiles over a map. Every frame a cull
// pass walks the tree with a camera, subdividing tiles that are close
// enough and queueing loads for tiles that need data. Loads run on
// background job arenas; their results are merged into the tiles between
// frames. Tile textures live in a bindless texture arena whose handle table
// the shaders index by texture number.
//
// # Quick Start
//
//	m := mapdata.New(tilekey.GlobalGeodetic)
//	m.AddLayer(mapdata.NewImageLayer("imagery", mapdata.NewDirSource("tiles", "")))
//
//	e, err := terrain.New(ctx, m)
//	if err != nil {
//		return err
//	}
//	defer e.Close(state)
//
//	for {
//		cam := tile.LookAtGeo(lat, lon, height, fovY, viewportHeight)
//		e.Cull(cam)
//		e.Update(ctx)
//		if err := e.Apply(state); err != nil {
//			log.Print(err)
//		}
//		e.Expire()
//		draw(cam.DrawList())
//	}
//
// # Architecture
//
// The library is organized into:
//   - terrain: the Engine and its options
//   - tile: tile state machine, render model, culling and merging
//   - texture: textures, the bindless arena and its handle table
//   - mapdata: a map over directory or bbolt tile stores
//   - backend/wgpu, backend/headless: texture.Device implementations
//   - config: options and their loading from files and environment
package terrain

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
