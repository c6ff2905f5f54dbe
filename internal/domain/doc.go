// Package domain models satellite pass notifications and the scenes built
// from them.
//
// # Notifications
//
// Upstream receivers publish one JSON message per landed file ("file"), per
// packaged multi-file dataset ("dataset"), or per collection of datasets
// ("collection"):
//
//	{"type": "dataset", "platform_name": "Meteosat-11", "sensor": "seviri",
//	 "start_time": "2024-04-26T12:00:00", "end_time": "2024-04-26T12:15:00",
//	 "dataset": [{"uri": "ssh://host/data/H-000-MSG4__-MSG4________-_________-PRO______-202404261200-__", "uid": "..."}]}
//
// Timestamps without a zone are UTC. A missing orbit number defaults to
// [DefaultOrbitNumber]. The sensor may be a single name or a list, in which
// case the first entry decides whether the message is processed.
//
// # Scenes
//
// A scene is identified by a [SceneKey]: platform, orbit and pass start.
// Two keys are equal when platform and orbit match and the starts are less
// than the key tolerance apart (five minutes by default), which absorbs
// small start-time disagreements between files of one pass.
//
// Each platform belongs to a [Family] whose [Rules] decide when the
// accumulated files are complete:
//
//	geostationary      both the -PRO and -EPI segment files have arrived
//	polar-dataset      the dataset holds a geolocation and a data file
//	polar-multisensor  the AVHRR file plus one file per required MW sensor
//	polar-collection   a pre-aggregated collection, complete on arrival
//
// # Rejections
//
// Input the service deliberately ignores fails with one of the sentinel
// errors in errors.go. [IsRejection] separates those from real failures.
package domain
