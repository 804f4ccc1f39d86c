package transport

import "github.com/nxconn/nxconn/codec"

// codecRegistry returns the shared class registry every connection's
// codec draws type-ids from (spec §9's codec plug-point: "a class
// registry register(type-id) returning a stable integer").
func codecRegistry() *codec.Registry { return codec.DefaultRegistry }
