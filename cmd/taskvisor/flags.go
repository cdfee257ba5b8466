package main

import "time"

// GlobalFlags holds persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string
	// API connection
	APIUrl     string
	APITimeout time.Duration
}

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
}

// AppFlags holds flags for app add and app update
type AppFlags struct {
	ID           string
	Name         string
	Executable   string
	Arguments    string
	WorkDir      string
	Env          []string
	LogDir       string
	Disabled     bool
	NoRestart    bool
	MaxRestarts  int
	StartupDelay time.Duration
}

// ScheduleFlags holds flags for the schedule subcommands
type ScheduleFlags struct {
	App       string
	ID        string
	Name      string
	Type      string
	Action    string
	Interval  time.Duration
	TimeOfDay string
	DayOfWeek string
	Disabled  bool
	At        string
}
