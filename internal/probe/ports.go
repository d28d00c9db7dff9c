package probe

import "sort"

// Top100Ports is the default probe set: the most commonly open TCP ports,
// in ascending order.
var Top100Ports = []int{
	7, 9, 13, 21, 22, 23, 25, 26, 37, 53,
	79, 80, 81, 88, 106, 110, 111, 113, 119, 135,
	139, 143, 144, 179, 199, 389, 427, 443, 444, 445,
	465, 513, 514, 515, 543, 544, 548, 554, 587, 631,
	646, 873, 990, 993, 995, 1025, 1026, 1027, 1028, 1029,
	1110, 1433, 1720, 1723, 1755, 1900, 2000, 2001, 2049, 2121,
	2717, 3000, 3128, 3306, 3389, 3986, 4899, 5000, 5009, 5051,
	5060, 5101, 5190, 5357, 5432, 5631, 5666, 5800, 5900, 6000,
	6001, 6646, 7070, 8000, 8008, 8009, 8080, 8081, 8443, 8888,
	9100, 9999, 10000, 32768, 49152, 49153, 49154, 49155, 49156, 49157,
}

// extendedPorts are added on top of the top-100 set for deeper scans.
var extendedPorts = []int{
	17, 19, 20, 24, 30, 32, 33, 42, 43, 49,
	70, 82, 83, 84, 85, 89, 90, 99, 100, 102,
	125, 146, 161, 163, 212, 222, 254, 255, 256, 259,
	264, 280, 301, 306, 311, 340, 366, 406, 407, 416,
	417, 425, 444, 458, 464, 481, 497, 500, 512, 524,
	541, 545, 555, 563, 593, 616, 617, 625, 636, 666,
	667, 668, 683, 687, 691, 700, 705, 711, 714, 720,
	722, 726, 749, 765, 777, 783, 787, 800, 801, 808,
	843, 880, 888, 898, 900, 901, 902, 903, 911, 912,
	981, 987, 992, 999, 1000, 1001, 1002, 1007, 1009, 1010,
	1011, 1021, 1022, 1023, 1024, 1030, 1031, 1032, 1033, 1034,
	1035, 1036, 1037, 1038, 1039, 1040, 1041, 1044, 1048, 1049,
	1050, 1053, 1054, 1056, 1058, 1059, 1064, 1065, 1066, 1069,
	1071, 1074, 1080, 1081, 1082, 1083, 1088, 1090, 1100, 1102,
	1104, 1105, 1106, 1107, 1108, 1111, 1112, 1113, 1114, 1117,
	1119, 1121, 1122, 1123, 1124, 1126, 1130, 1131, 1132, 1137,
	1138, 1141, 1145, 1147, 1148, 1149, 1151, 1152, 1154, 1163,
	1164, 1165, 1166, 1169, 1174, 1175, 1183, 1185, 1186, 1187,
	1192, 1198, 1199, 1201, 1213, 1216, 1217, 1218, 1233, 1234,
	1236, 1244, 1247, 1248, 1259, 1271, 1272, 1277, 1287, 1296,
	1300, 1301, 1309, 1310, 1311, 1322, 1328, 1334, 1352, 1417,
	1434, 1443, 1455, 1461, 1494, 1500, 1501, 1503, 1521, 1524,
	1533, 1556, 1580, 1583, 1594, 1600, 1641, 1658, 1666, 1687,
	1688, 1700, 1717, 1718, 1719, 1721, 1730, 1735, 1736, 1745,
	1750, 1752, 1753, 1759, 1761, 1782, 1783, 1801, 1805, 1812,
	1839, 1840, 1862, 1863, 1864, 1875, 1914, 1935, 1947, 1971,
	1972, 1974, 1984, 1998, 1999, 2002, 2003, 2004, 2005, 2006,
	2007, 2008, 2009, 2010, 2013, 2020, 2021, 2022, 2030, 2033,
	2034, 2035, 2038, 2040, 2041, 2042, 2043, 2045, 2046, 2047,
	2048, 2065, 2068, 2099, 2100, 2103, 2105, 2106, 2107, 2111,
	2119, 2126, 2135, 2144, 2160, 2161, 2170, 2179, 2190, 2191,
	2196, 2200, 2222, 2251, 2260, 2288, 2301, 2323, 2366, 2381,
	2382, 2383, 2393, 2394, 2399, 2401, 2492, 2500, 2522, 2525,
	2557, 2601, 2602, 2604, 2605, 2607, 2608, 2638, 2701, 2702,
	2710, 2718, 2725, 2800, 2809, 2811, 2869, 2875, 2909, 2910,
	2920, 2967, 2968, 2998, 3001, 3003, 3005, 3006, 3007, 3011,
	3013, 3017, 3030, 3031, 3052, 3071, 3077, 3119, 3162, 3168,
	3211, 3221, 3260, 3261, 3268, 3269, 3283, 3300, 3301, 3322,
	3323, 3324, 3325, 3333, 3351, 3367, 3369, 3370, 3371, 3372,
	3404, 3476, 3493, 3517, 3527, 3546, 3551, 3580, 3659, 3689,
	3690, 3703, 3737, 3766, 3784, 3800, 3801, 3809, 3814, 3826,
	3827, 3828, 3851, 3869, 3871, 3878, 3880, 3889, 3905, 3914,
	3918, 3920, 3945, 3971, 3995, 3998, 4000, 4001, 4002, 4003,
	4004, 4005, 4006, 4045, 4111, 4125, 4126, 4129, 4224, 4242,
	4279, 4321, 4343, 4443, 4444, 4445, 4446, 4449, 4550, 4567,
	4662, 4848, 4900, 4998, 5001, 5002, 5003, 5004, 5030, 5033,
	5050, 5054, 5080, 5087, 5100, 5102, 5120, 5200, 5214, 5221,
	5222, 5225, 5226, 5269, 5280, 5298, 5353, 5405, 5414, 5431,
	5440, 5500, 5510, 5544, 5550, 5555, 5560, 5566, 5678, 5718,
	5730, 5801, 5802, 5810, 5811, 5815, 5822, 5825, 5850, 5859,
	5862, 5877, 5901, 5902, 5903, 5904, 5906, 5907, 5910, 5911,
	5915, 5922, 5925, 5950, 5952, 5959, 5960, 5961, 5962, 5963,
	5987, 5988, 5989, 5998, 5999, 6002, 6003, 6004, 6005, 6006,
	6007, 6009, 6025, 6059, 6100, 6101, 6106, 6112, 6123, 6129,
	6156, 6346, 6389, 6502, 6510, 6543, 6547, 6565, 6566, 6567,
	6580, 6667, 6668, 6669, 6689, 6692, 6699, 6779, 6788, 6789,
	6792, 6839, 6881, 6901, 6969, 7000, 7001, 7002, 7004, 7007,
	7019, 7025, 7100, 7103, 7106, 7200, 7201, 7402, 7435, 7443,
	7496, 7512, 7625, 7627, 7676, 7741, 7777, 7778, 7800, 7911,
	7920, 7921, 7937, 7938, 7999, 8001, 8002, 8007, 8010, 8011,
	8021, 8022, 8031, 8042, 8045, 8060, 8069, 8083, 8084, 8085,
	8086, 8087, 8088, 8089, 8090, 8093, 8096, 8099, 8100, 8123,
	8180, 8181, 8192, 8193, 8194, 8200, 8222, 8254, 8290, 8291,
	8292, 8300, 8333, 8383, 8400, 8402, 8500, 8555, 8600, 8649,
	8651, 8652, 8654, 8686, 8701, 8800, 8873, 8899, 8994, 9000,
	9001, 9002, 9003, 9009, 9010, 9011, 9040, 9050, 9071, 9080,
	9081, 9090, 9091, 9099, 9101, 9102, 9103, 9110, 9111, 9200,
	9207, 9220, 9290, 9415, 9418, 9485, 9500, 9502, 9503, 9535,
	9575, 9593, 9594, 9595, 9618, 9666, 9876, 9877, 9878, 9898,
	9900, 9917, 9929, 9943, 9944, 9968, 9998, 10001, 10002, 10003,
	10004, 10009, 10010, 10012, 10024, 10025, 10082, 10180, 10215, 10243,
	10566, 10616, 10617, 10621, 10626, 10628, 10629, 10778, 11110, 11111,
	11967, 12000, 12174, 12265, 12345, 13456, 13722, 13782, 13783, 14000,
	14238, 14441, 14442, 15000, 15002, 15003, 15004, 15660, 15742, 16000,
	16001, 16012, 16016, 16018, 16080, 16113, 16992, 16993, 17877, 17988,
	18040, 18101, 18988, 19101, 19283, 19315, 19350, 19780, 19801, 19842,
	20000, 20005, 20031, 20221, 20222, 21571, 22939, 23502, 24444, 24800,
	25734, 25735, 26214, 27000, 27352, 27353, 27355, 27356, 27715, 28201,
	30000, 30718, 30951, 31038, 31337, 32769, 32770, 32771, 32772, 32773,
	32774, 32775, 32776, 32777, 32778, 32779, 32780, 32781, 32782, 32783,
	32784, 32785, 33354, 33899, 34571, 34572, 34573, 35500, 38292, 40193,
	40911, 41511, 42510, 44176, 44442, 44443, 44501, 45100, 48080, 49158,
	49159, 49160, 49161, 49163, 49165, 49167, 49175, 49176, 49400, 49999,
	50000, 50001, 50002, 50003, 50006, 50300, 50389, 50500, 50636, 50800,
	51103, 51493, 52673, 52822, 52848, 52869, 54045, 54328, 55055, 55056,
	55555, 55600, 56737, 56738, 57294, 57797, 58080, 60020, 60443, 61532,
	61900, 62078, 63331, 64623, 64680, 65000, 65129, 65389,
}

// Top1000Ports is the extended probe set.
var Top1000Ports = buildTop1000()

func buildTop1000() []int {
	seen := make(map[int]bool, len(Top100Ports)+len(extendedPorts))
	ports := make([]int, 0, len(Top100Ports)+len(extendedPorts))
	for _, p := range Top100Ports {
		if !seen[p] {
			seen[p] = true
			ports = append(ports, p)
		}
	}
	for _, p := range extendedPorts {
		if !seen[p] {
			seen[p] = true
			ports = append(ports, p)
		}
	}
	sort.Ints(ports)
	return ports
}

// serviceNames maps well-known TCP ports to service labels.
var serviceNames = map[int]string{
	21:    "ftp",
	22:    "ssh",
	23:    "telnet",
	25:    "smtp",
	53:    "dns",
	80:    "http",
	88:    "kerberos",
	110:   "pop3",
	111:   "rpcbind",
	135:   "msrpc",
	139:   "netbios-ssn",
	143:   "imap",
	389:   "ldap",
	427:   "svrloc",
	443:   "https",
	445:   "smb",
	465:   "smtps",
	515:   "printer",
	548:   "afp",
	554:   "rtsp",
	587:   "submission",
	631:   "ipp",
	873:   "rsync",
	993:   "imaps",
	995:   "pop3s",
	1433:  "mssql",
	1723:  "pptp",
	1900:  "upnp",
	2049:  "nfs",
	3000:  "http-alt",
	3128:  "http-proxy",
	3306:  "mysql",
	3389:  "rdp",
	3689:  "daap",
	5000:  "upnp",
	5060:  "sip",
	5353:  "mdns",
	5432:  "postgresql",
	5900:  "vnc",
	6000:  "x11",
	7070:  "realserver",
	8000:  "http-alt",
	8008:  "http-alt",
	8009:  "ajp13",
	8080:  "http-proxy",
	8081:  "http-alt",
	8443:  "https-alt",
	8888:  "http-alt",
	9100:  "jetdirect",
	10000: "webmin",
	32400: "plex",
	62078: "iphone-sync",
}

// ServiceName returns the well-known service label for a port, or empty
// string when unmapped.
func ServiceName(port int) string {
	return serviceNames[port]
}

// PortSet resolves a configured port set name to a port list. Unknown names
// fall back to the top-100 set.
func PortSet(name string) []int {
	switch name {
	case "top1000":
		return Top1000Ports
	default:
		return Top100Ports
	}
}
