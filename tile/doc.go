// Package tile implements the terrain quadtree.
//
// Each TileNode covers one tilekey.Key. During a cull pass a tile either
// accepts itself for drawing or, when the view demands more detail,
// creates and traverses its four children. A new child shows its parent's
// textures through a quadrant scale/bias matrix until its own data has
// been loaded and merged. Dormant subtrees are pruned by the engine.
//
// Tiles share an EngineContext holding the map, the options, the live tile
// registry, the merger, the geometry pool and the job arenas.
package tile
