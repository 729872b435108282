// Package mapdata is a tile.Map backed by on-disk tile stores.
//
// A Map holds image, elevation and land-cover layers. Each layer reads
// encoded tiles from a Source: a DirSource reads files laid out by a path
// pattern, a BoltSource reads a bbolt database with one bucket per layer.
//
//	src, err := mapdata.OpenBolt("world.db", true)
//	if err != nil {
//		return err
//	}
//	m := mapdata.New(tilekey.GlobalGeodetic)
//	defer m.Close()
//	m.AddLayer(mapdata.NewImageLayer("imagery", src, mapdata.WithAsync(true)))
//	m.AddLayer(mapdata.NewElevationLayer("dem", src, mapdata.WithLODRange(0, 12)))
//
// Decoded tiles are kept in a short-lived cache and concurrent requests for
// the same tile share one read.
package mapdata
