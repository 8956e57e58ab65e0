// Package schema compiles CUE model definitions and installs them into a
// graph.
//
// A schema file declares models under the top-level "model" field:
//
//	model: Car: {
//		collection: "cars"
//		id:         "vin"
//		attributes: {
//			vin:  string
//			name: string
//		}
//		relationships: owner: {
//			type:    "one_to_many"
//			model:   "Person"
//			reverse: "cars"
//		}
//	}
//
// Each relationship is declared once, on its forward side. Float attributes
// are rejected. Load and Compile report problems as LoadError or
// ValidationError values carrying stable E-codes.
package schema
