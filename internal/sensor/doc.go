// Package sensor maps Tasmota sensor readings onto typed device capabilities.
//
// Tasmota reports sensor values as nested JSON objects keyed by sensor
// instance name, for example:
//
//	{"ENERGY":{"Power":10,"Voltage":230},"DS18B20-1":{"Temperature":21.4},"TempUnit":"C"}
//
// Walk visits every terminal value with its key path. Schema.Resolve looks
// the last path segment up in a static table and builds the capability id,
// substituting the enclosing instance name (the second-to-last segment) into
// the capability template so several instances of the same reading stay
// distinct:
//
//	schema := sensor.DefaultSchema()
//	sensor.Walk(payload, func(path []string, value any) {
//	    res, ok := schema.Resolve(path)
//	    if !ok {
//	        return // unmapped key
//	    }
//	    v, err := res.Value(value)
//	    ...
//	})
//
// Unmapped keys are skipped without error.
package sensor
