package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"

	"cs-router/destination"
	"cs-router/message"
	"cs-router/property"
	"cs-router/router"
)

// vectorFlags describe how a property's elements become Invoke records.
type vectorFlags struct {
	command string
	ints    bool
	array   bool
	repeat  bool
	index   bool
	per     int
}

func setProperty(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("set", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to the YAML configuration")
	to := fs.String("to", "DataServer", "destination mask, e.g. DataServer|Client")
	id := fs.Uint("id", 0, "id of the target object")
	var vf vectorFlags
	fs.StringVar(&vf.command, "command", "", "setter method invoked on the object")
	fs.BoolVar(&vf.ints, "int", false, "send elements as integers instead of floats")
	fs.BoolVar(&vf.array, "array", false, "pack the elements of each record into one array argument")
	fs.BoolVar(&vf.repeat, "repeat", false, "emit one record per -per elements")
	fs.BoolVar(&vf.index, "index", false, "prefix repeated records with their chunk index")
	fs.IntVar(&vf.per, "per", 1, "elements per record with -repeat")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if vf.command == "" {
		return fmt.Errorf("missing -command")
	}
	if *id == 0 || uint64(*id) > uint64(^uint32(0)) {
		return fmt.Errorf("-id must be a non-null object id")
	}
	mask, err := destination.ParseMask(*to)
	if err != nil {
		return err
	}
	prop, err := vf.build(fs.Args())
	if err != nil {
		return err
	}

	p, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer p.close()

	r, closeGroups := clientRouter(p)
	defer closeGroups()
	defer r.Close()
	return r.PushProperty(mask, message.ID(*id), prop)
}

// build parses values into an int or float vector property.
func (vf vectorFlags) build(values []string) (router.PropertyWriter, error) {
	if vf.ints {
		v := &property.Vector[int64]{}
		vf.apply(&v.Command, &v.RepeatCommand, &v.UseIndex, &v.ArgumentIsArray, &v.ElementsPerCommand)
		elems := make([]int64, len(values))
		for i, s := range values {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			elems[i] = n
		}
		v.SetElements(elems...)
		return v, nil
	}

	v := &property.Vector[float64]{}
	vf.apply(&v.Command, &v.RepeatCommand, &v.UseIndex, &v.ArgumentIsArray, &v.ElementsPerCommand)
	elems := make([]float64, len(values))
	for i, s := range values {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		elems[i] = f
	}
	v.SetElements(elems...)
	return v, nil
}

func (vf vectorFlags) apply(command *string, repeat, index, array *bool, per *int) {
	*command = vf.command
	*repeat = vf.repeat
	*index = vf.index
	*array = vf.array
	*per = vf.per
}
