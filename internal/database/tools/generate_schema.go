// Command generate_schema writes the schema produced by the embedded
// migrations to a SQL file for reference.
package main

import (
	"flag"
	"fmt"
	"os"

	"romdl/internal/database"
	"romdl/internal/database/migrations"
)

func main() {
	out := flag.String("out", "schema.sql", "output file")
	flag.Parse()

	db, err := database.OpenConnection(":memory:")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if _, err := migrations.Up(db); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}

	schema, err := database.Schema(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to extract schema: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(*out, []byte(schema), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write schema file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s from migrations\n", *out)
}
